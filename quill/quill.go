package quill

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// minimum input lengths after trimming whitespace
const MinTitleLength = 5
const MinContentLength = 50

var validate = validator.New(validator.WithRequiredStructEnabled())

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, fmt.Errorf("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// an authenticated end-user identity supplied by the identity provider.
// the id is an opaque stable string. all other fields are optional.
type Account struct {
	Id          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
}

// a single authored text entry owned by exactly one account.
// the author fields are a snapshot of the account at creation time and are
// never refreshed. timestamps are epoch milliseconds.
type Post struct {
	Id                string `json:"id"`
	Title             string `json:"title"`
	Content           string `json:"content"`
	OwnerId           string `json:"ownerId"`
	AuthorDisplayName string `json:"authorDisplayName,omitempty"`
	AuthorEmail       string `json:"authorEmail,omitempty"`
	AuthorAvatarUrl   string `json:"authorAvatarUrl,omitempty"`
	CreatedAt         int64  `json:"createdAt"`
	UpdatedAt         int64  `json:"updatedAt"`
}

func (self *Post) Copy() *Post {
	copy := *self
	return &copy
}

// user-supplied fields for a create or edit.
// validated after trimming, before any write is attempted.
type PostInput struct {
	Title   string `validate:"required,min=5"`
	Content string `validate:"required,min=50"`
}

func (self *PostInput) Normalize() {
	self.Title = strings.TrimSpace(self.Title)
	self.Content = strings.TrimSpace(self.Content)
}

func (self *PostInput) Validate() error {
	self.Normalize()
	if err := validate.Struct(self); err != nil {
		for _, fieldErr := range err.(validator.ValidationErrors) {
			switch fieldErr.Field() {
			case "Title":
				return fmt.Errorf("title must be at least %d characters", MinTitleLength)
			case "Content":
				return fmt.Errorf("content must be at least %d characters", MinContentLength)
			}
		}
		return err
	}
	return nil
}

// the fields an edit is allowed to change
type PostPatch struct {
	Id        string
	Title     string
	Content   string
	UpdatedAt int64
}
