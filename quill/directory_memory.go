package quill

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/oklog/ulid/v2"
)

// in-process directory with the same semantics as the managed backend:
// per-subtree subscriptions that receive the full subtree state on every
// change, generated time-ordered document ids, and FIFO notification order.
// used by tests and by `quillctl --local`.

type MemoryDirectory struct {
	// serializes mutations and notification fanout so that subscribers
	// observe snapshots in mutation order
	mutex sync.Mutex

	// subtree path -> document id -> document
	subtrees map[string]map[string]*PostDocument
	// subtree path -> active subscriptions
	subscriptions map[string]map[*memorySubscription]bool
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		subtrees:      map[string]map[string]*PostDocument{},
		subscriptions: map[string]map[*memorySubscription]bool{},
	}
}

func (self *MemoryDirectory) Subscribe(path string, callback SubscriptionFunc) (Subscription, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	subscription := &memorySubscription{
		directory: self,
		path:      path,
		callback:  callback,
	}
	subscriptions, ok := self.subscriptions[path]
	if !ok {
		subscriptions = map[*memorySubscription]bool{}
		self.subscriptions[path] = subscriptions
	}
	subscriptions[subscription] = true

	// initial snapshot, delivered before Subscribe returns
	callback(self.snapshot(path), nil)

	return subscription, nil
}

func (self *MemoryDirectory) CreateDocument(parentPath string, doc *PostDocument) (string, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	documents, ok := self.subtrees[parentPath]
	if !ok {
		documents = map[string]*PostDocument{}
		self.subtrees[parentPath] = documents
	}
	// time-ordered push key, matching the backend's generated ids
	documentId := strings.ToLower(ulid.Make().String())
	documents[documentId] = doc.Copy()

	self.notify(parentPath)
	return documentId, nil
}

func (self *MemoryDirectory) UpdateDocument(path string, patch map[string]any) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	parentPath, documentId, err := splitDocumentPath(path)
	if err != nil {
		return err
	}
	documents, ok := self.subtrees[parentPath]
	if !ok {
		return &WriteError{Op: "update", Path: path, Message: "document does not exist"}
	}
	doc, ok := documents[documentId]
	if !ok {
		return &WriteError{Op: "update", Path: path, Message: "document does not exist"}
	}

	// reject the whole patch before applying any of it
	for field, value := range patch {
		switch field {
		case "title", "content":
			if _, ok := value.(string); !ok {
				return &WriteError{Op: "update", Path: path, Message: fmt.Sprintf("field %s must be a string", field)}
			}
		case "updatedAt":
			if _, ok := toInt64(value); !ok {
				return &WriteError{Op: "update", Path: path, Message: "field updatedAt must be a number"}
			}
		default:
			return &WriteError{Op: "update", Path: path, Message: fmt.Sprintf("unknown field %s", field)}
		}
	}
	for field, value := range patch {
		switch field {
		case "title":
			doc.Title = value.(string)
		case "content":
			doc.Content = value.(string)
		case "updatedAt":
			doc.UpdatedAt, _ = toInt64(value)
		}
	}

	self.notify(parentPath)
	return nil
}

func (self *MemoryDirectory) DeleteDocument(path string) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	parentPath, documentId, err := splitDocumentPath(path)
	if err != nil {
		return err
	}
	if documents, ok := self.subtrees[parentPath]; ok {
		delete(documents, documentId)
		if len(documents) == 0 {
			delete(self.subtrees, parentPath)
		}
	}
	// delete is idempotent at the backend. notify either way.
	self.notify(parentPath)
	return nil
}

// fails every subscription under path, as a dropped connection would
func (self *MemoryDirectory) FailSubscriptions(path string, message string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for subscription := range self.subscriptions[path] {
		subscription.callback(nil, &SubscriptionError{Path: path, Message: message})
	}
}

// must hold mutex
func (self *MemoryDirectory) snapshot(path string) *Snapshot {
	documents, ok := self.subtrees[path]
	if !ok || len(documents) == 0 {
		return &Snapshot{Exists: false}
	}
	out := make(map[string]*PostDocument, len(documents))
	for _, documentId := range maps.Keys(documents) {
		out[documentId] = documents[documentId].Copy()
	}
	return &Snapshot{Exists: true, Documents: out}
}

// must hold mutex
func (self *MemoryDirectory) notify(path string) {
	subscriptions := self.subscriptions[path]
	if len(subscriptions) == 0 {
		return
	}
	snapshot := self.snapshot(path)
	for subscription := range subscriptions {
		subscription.callback(snapshot, nil)
	}
}

type memorySubscription struct {
	directory *MemoryDirectory
	path      string
	callback  SubscriptionFunc
}

func (self *memorySubscription) Cancel() {
	self.directory.mutex.Lock()
	defer self.directory.mutex.Unlock()

	if subscriptions, ok := self.directory.subscriptions[self.path]; ok {
		delete(subscriptions, self)
		if len(subscriptions) == 0 {
			delete(self.directory.subscriptions, self.path)
		}
	}
}

func splitDocumentPath(path string) (parentPath string, documentId string, err error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("not a document path: %s", path)
	}
	return path[:i], path[i+1:], nil
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
