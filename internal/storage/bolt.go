package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketConversations = []byte("conversations")
	// Parent bucket of one nested bucket per conversation. Its sequence is the
	// store-wide message id counter.
	bucketMessages = []byte("messages")
)

type boltConversation struct {
	OwnerID   *int64    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type boltMessage struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BoltStore keeps history in a single bbolt file. Keys are big-endian ids so
// cursor order equals id order.
type BoltStore struct {
	db  *bolt.DB
	log *zap.Logger
}

func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	logger.Info("bolt history store ready", zap.String("path", path))
	return &BoltStore{db: db, log: logger}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// update runs fn in a write transaction; errors from fn that are not domain
// errors are reported as unavailability.
func (s *BoltStore) update(op string, fn func(tx *bolt.Tx) error) error {
	return wrapBolt(op, s.db.Update(fn))
}

func (s *BoltStore) view(op string, fn func(tx *bolt.Tx) error) error {
	return wrapBolt(op, s.db.View(fn))
}

func wrapBolt(op string, err error) error {
	if err == nil || errors.Is(err, ErrConversationNotFound) || errors.Is(err, ErrInvalidSender) {
		return err
	}
	return unavailable(op, err)
}

func (s *BoltStore) CreateConversation(ctx context.Context, ownerID *int64) (Conversation, error) {
	var conv Conversation
	err := s.update("create conversation", func(tx *bolt.Tx) error {
		var err error
		conv, err = boltInsertConversation(tx, ownerID)
		return err
	})
	return conv, err
}

func (s *BoltStore) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	var conv Conversation
	err := s.view("get conversation", func(tx *bolt.Tx) error {
		var err error
		conv, err = boltGetConversation(tx, id)
		return err
	})
	return conv, err
}

func (s *BoltStore) ResolveConversation(ctx context.Context, candidate *int64, ownerID *int64) (Conversation, bool, error) {
	var conv Conversation
	var created bool
	err := s.update("resolve conversation", func(tx *bolt.Tx) error {
		if candidate != nil {
			found, err := boltGetConversation(tx, *candidate)
			if err == nil {
				conv = found
				return nil
			}
			if !errors.Is(err, ErrConversationNotFound) {
				return err
			}
		}
		var err error
		conv, err = boltInsertConversation(tx, ownerID)
		created = err == nil
		return err
	})
	return conv, created, err
}

func (s *BoltStore) DeleteConversation(ctx context.Context, id int64) error {
	return s.update("delete conversation", func(tx *bolt.Tx) error {
		key := itob(id)
		convs := tx.Bucket(bucketConversations)
		if convs.Get(key) == nil {
			return ErrConversationNotFound
		}
		if err := convs.Delete(key); err != nil {
			return err
		}
		err := tx.Bucket(bucketMessages).DeleteBucket(key)
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
}

func (s *BoltStore) Append(ctx context.Context, conversationID int64, sender Sender, content string) (Message, error) {
	if !sender.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
	var msg Message
	err := s.update("append", func(tx *bolt.Tx) error {
		if _, err := boltGetConversation(tx, conversationID); err != nil {
			return err
		}
		var err error
		msg, err = boltInsertMessage(tx, conversationID, sender, content)
		return err
	})
	return msg, err
}

func (s *BoltStore) AppendExchange(ctx context.Context, conversationID int64, userContent, botContent string) (Message, Message, error) {
	var user, bot Message
	err := s.update("append exchange", func(tx *bolt.Tx) error {
		if _, err := boltGetConversation(tx, conversationID); err != nil {
			return err
		}
		var err error
		if user, err = boltInsertMessage(tx, conversationID, SenderUser, userContent); err != nil {
			return err
		}
		bot, err = boltInsertMessage(tx, conversationID, SenderBot, botContent)
		return err
	})
	if err != nil {
		return Message{}, Message{}, err
	}
	return user, bot, nil
}

func (s *BoltStore) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	msgs := []Message{}
	err := s.view("list messages", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket(itob(conversationID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec boltMessage
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode message %d: %w", btoi(k), err)
			}
			msgs = append(msgs, Message{
				ID:             btoi(k),
				ConversationID: conversationID,
				Sender:         rec.Sender,
				Content:        rec.Content,
				CreatedAt:      rec.CreatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func boltGetConversation(tx *bolt.Tx, id int64) (Conversation, error) {
	v := tx.Bucket(bucketConversations).Get(itob(id))
	if v == nil {
		return Conversation{}, ErrConversationNotFound
	}
	var rec boltConversation
	if err := json.Unmarshal(v, &rec); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation %d: %w", id, err)
	}
	return Conversation{ID: id, OwnerID: rec.OwnerID, CreatedAt: rec.CreatedAt}, nil
}

func boltInsertConversation(tx *bolt.Tx, ownerID *int64) (Conversation, error) {
	b := tx.Bucket(bucketConversations)
	seq, err := b.NextSequence()
	if err != nil {
		return Conversation{}, err
	}
	rec := boltConversation{OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	buf, err := json.Marshal(rec)
	if err != nil {
		return Conversation{}, err
	}
	id := int64(seq)
	if err := b.Put(itob(id), buf); err != nil {
		return Conversation{}, err
	}
	return Conversation{ID: id, OwnerID: ownerID, CreatedAt: rec.CreatedAt}, nil
}

func boltInsertMessage(tx *bolt.Tx, conversationID int64, sender Sender, content string) (Message, error) {
	parent := tx.Bucket(bucketMessages)
	seq, err := parent.NextSequence()
	if err != nil {
		return Message{}, err
	}
	b, err := parent.CreateBucketIfNotExists(itob(conversationID))
	if err != nil {
		return Message{}, err
	}
	rec := boltMessage{Sender: sender, Content: content, CreatedAt: time.Now().UTC()}
	buf, err := json.Marshal(rec)
	if err != nil {
		return Message{}, err
	}
	id := int64(seq)
	if err := b.Put(itob(id), buf); err != nil {
		return Message{}, err
	}
	return Message{ID: id, ConversationID: conversationID, Sender: sender, Content: content, CreatedAt: rec.CreatedAt}, nil
}
