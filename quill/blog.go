package quill

import (
	"time"
)

type PostCallback resultCallback[*Post]
type PostPatchCallback resultCallback[PostPatch]
type DeleteCallback resultCallback[string]

// the write side of the blog: validates input, issues directory writes for
// the signed-in account, and feeds write outcomes into the collection.
//
// validation failures and a missing account are reported synchronously,
// before any write is attempted, and leave the collection untouched. write
// failures set the collection error and clear the in-progress flag. no
// automatic retries - a failed write is re-initiated by the caller.
type Blog struct {
	session    *SessionStore
	collection *PostCollection
	directory  Directory

	// epoch milliseconds
	now func() int64

	log LogFunction
}

func NewBlog(session *SessionStore, collection *PostCollection, directory Directory) *Blog {
	return &Blog{
		session:    session,
		collection: collection,
		directory:  directory,
		now: func() int64 {
			return time.Now().UnixMilli()
		},
		log: LogFn(LogLevelInfo, "blog"),
	}
}

func (self *Blog) CreatePost(input PostInput, callback PostCallback) error {
	if err := input.Validate(); err != nil {
		return err
	}
	account := self.session.Account()
	if account == nil {
		return &AuthError{Message: "no account signed in"}
	}

	self.collection.CreateRequested()
	go func() {
		now := self.now()
		doc := &PostDocument{
			Title:     input.Title,
			Content:   input.Content,
			Author:    authorName(account),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if account.Email != "" {
			doc.AuthorEmail = &account.Email
		}
		if account.AvatarUrl != "" {
			doc.AuthorPhoto = &account.AvatarUrl
		}

		postId, err := self.directory.CreateDocument(PostsPath(account.Id), doc)
		if err != nil {
			self.log("create failed: %s", err)
			self.collection.CreateFailed(err.Error())
			callback.Result(nil, err)
			return
		}

		post := postFromDocument(account.Id, postId, doc)
		self.collection.CreateSucceeded(post)
		callback.Result(post, nil)
	}()
	return nil
}

func (self *Blog) UpdatePost(postId string, input PostInput, callback PostPatchCallback) error {
	if err := input.Validate(); err != nil {
		return err
	}
	account := self.session.Account()
	if account == nil {
		return &AuthError{Message: "no account signed in"}
	}

	self.collection.UpdateRequested()
	go func() {
		patch := PostPatch{
			Id:        postId,
			Title:     input.Title,
			Content:   input.Content,
			UpdatedAt: self.now(),
		}
		err := self.directory.UpdateDocument(
			DocumentPath(account.Id, postId),
			map[string]any{
				"title":     patch.Title,
				"content":   patch.Content,
				"updatedAt": patch.UpdatedAt,
			},
		)
		if err != nil {
			self.log("update %s failed: %s", postId, err)
			self.collection.UpdateFailed(err.Error())
			callback.Result(PostPatch{}, err)
			return
		}

		self.collection.UpdateSucceeded(patch)
		callback.Result(patch, nil)
	}()
	return nil
}

func (self *Blog) DeletePost(postId string, callback DeleteCallback) error {
	account := self.session.Account()
	if account == nil {
		return &AuthError{Message: "no account signed in"}
	}

	self.collection.DeleteRequested()
	go func() {
		err := self.directory.DeleteDocument(DocumentPath(account.Id, postId))
		if err != nil {
			self.log("delete %s failed: %s", postId, err)
			self.collection.DeleteFailed(err.Error())
			callback.Result("", err)
			return
		}

		self.collection.DeleteSucceeded(postId)
		callback.Result(postId, nil)
	}()
	return nil
}

func authorName(account *Account) string {
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return "Anonymous"
}
