package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/m4xw311/dealgate/errors"
)

// Conversation is the persisted history of one conversation id.
type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// AddMessage appends a message to the conversation history.
func (c *Conversation) AddMessage(msg Message) {
	c.Messages = append(c.Messages, msg)
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store keeps one JSON file per conversation under a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create conversation directory %s", dir)
	}
	return &Store{dir: dir}, nil
}

// New starts an empty conversation with a fresh id. Nothing is written until Save.
func (s *Store) New() *Conversation {
	return &Conversation{ID: uuid.NewString(), Messages: []Message{}}
}

// Load reads an existing conversation. A missing file yields an empty
// conversation carrying the requested id.
func (s *Store) Load(id string) (*Conversation, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Conversation{ID: id, Messages: []Message{}}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read conversation file %s", path)
	}

	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "could not parse conversation file %s", path)
	}
	c.ID = id
	return &c, nil
}

// Save writes the conversation atomically.
func (s *Store) Save(c *Conversation) error {
	path, err := s.path(c.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "could not write conversation file %s", tmp)
	}
	return os.Rename(tmp, path)
}

func (s *Store) path(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "invalid conversation id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}
