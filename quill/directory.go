package quill

import (
	"fmt"
)

// the remote directory is the external real-time document store keyed by
// hierarchical paths. the directory is authoritative for all post data. the
// local collection holds a cached, eventually-consistent copy.
//
// paths:
//     posts/{accountId}           subtree of all posts owned by accountId
//     posts/{accountId}/{postId}  a single post document
//
// ownerId is implicit in the path and not duplicated in the document.

func PostsPath(accountId string) string {
	return fmt.Sprintf("posts/%s", accountId)
}

func DocumentPath(accountId string, postId string) string {
	return fmt.Sprintf("posts/%s/%s", accountId, postId)
}

// the wire schema of one post document
type PostDocument struct {
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Author      string  `json:"author"`
	AuthorEmail *string `json:"authorEmail"`
	AuthorPhoto *string `json:"authorPhoto"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
}

func (self *PostDocument) Copy() *PostDocument {
	copy := *self
	return &copy
}

// the full current state of a subtree. delivered on every change, not a diff.
type Snapshot struct {
	Exists    bool
	Documents map[string]*PostDocument
}

// called on every push for a subscribed subtree, in the order the directory
// emits them. exactly one of snapshot, err is set.
type SubscriptionFunc func(snapshot *Snapshot, err error)

// a live channel delivering the full current state of a subtree on every
// change. Cancel is synchronous: after it returns, no further callback for
// this subscription runs.
type Subscription interface {
	Cancel()
}

type Directory interface {
	// the callback may fire synchronously with the initial snapshot before
	// Subscribe returns
	Subscribe(path string, callback SubscriptionFunc) (Subscription, error)
	// returns the generated document id
	CreateDocument(parentPath string, doc *PostDocument) (string, error)
	// partial field merge. fields absent from the patch are left unchanged.
	UpdateDocument(path string, patch map[string]any) error
	DeleteDocument(path string) error
}

type WriteError struct {
	Op      string
	Path    string
	Message string
}

func (self *WriteError) Error() string {
	return fmt.Sprintf("write %s %s: %s", self.Op, self.Path, self.Message)
}

type SubscriptionError struct {
	Path    string
	Message string
}

func (self *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %s", self.Path, self.Message)
}

type AuthError struct {
	Message string
}

func (self *AuthError) Error() string {
	return self.Message
}
