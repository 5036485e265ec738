package quill

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestId(t *testing.T) {
	id := NewId()
	assert.NotEqual(t, id, Id{})

	parsedId, err := ParseId(id.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, id, parsedId)

	idBytes := id.Bytes()
	assert.Equal(t, 16, len(idBytes))
	bytesId, err := IdFromBytes(idBytes)
	assert.Equal(t, err, nil)
	assert.Equal(t, id, bytesId)

	_, err = IdFromBytes([]byte{0x01, 0x02})
	assert.NotEqual(t, err, nil)

	_, err = ParseId("not-a-uuid")
	assert.NotEqual(t, err, nil)
}

func TestIdJson(t *testing.T) {
	id := NewId()
	idJson, err := json.Marshal(&id)
	assert.Equal(t, err, nil)

	var parsedId Id
	err = json.Unmarshal(idJson, &parsedId)
	assert.Equal(t, err, nil)
	assert.Equal(t, id, parsedId)
}

func TestPostInputValidate(t *testing.T) {
	// 6 char title, 49 char content rejects
	input := PostInput{
		Title:   "Hello!",
		Content: strings.Repeat("x", 49),
	}
	err := input.Validate()
	assert.NotEqual(t, err, nil)

	// 50 char content passes
	input = PostInput{
		Title:   "Hello!",
		Content: strings.Repeat("x", 50),
	}
	err = input.Validate()
	assert.Equal(t, err, nil)

	// limits apply after trimming
	input = PostInput{
		Title:   "  Hi  ",
		Content: strings.Repeat("x", 50),
	}
	err = input.Validate()
	assert.NotEqual(t, err, nil)

	input = PostInput{
		Title:   "Hello!",
		Content: "   " + strings.Repeat("x", 49) + "   ",
	}
	err = input.Validate()
	assert.NotEqual(t, err, nil)

	// both required
	input = PostInput{}
	err = input.Validate()
	assert.NotEqual(t, err, nil)
}

func TestPostInputNormalize(t *testing.T) {
	input := PostInput{
		Title:   "  A fine title  ",
		Content: "  " + strings.Repeat("c", 60) + "  ",
	}
	err := input.Validate()
	assert.Equal(t, err, nil)
	assert.Equal(t, "A fine title", input.Title)
	assert.Equal(t, strings.Repeat("c", 60), input.Content)
}

func TestPostCopy(t *testing.T) {
	post := &Post{
		Id:        "p1",
		Title:     "Title one",
		OwnerId:   "u1",
		CreatedAt: 100,
		UpdatedAt: 100,
	}
	postCopy := post.Copy()
	postCopy.Title = "changed"
	assert.Equal(t, "Title one", post.Title)
	assert.Equal(t, "p1", postCopy.Id)
}
