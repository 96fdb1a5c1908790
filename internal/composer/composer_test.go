package composer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-session/internal/mocks"
	"chat-session/internal/models"
	"chat-session/internal/observability"
)

func TestSendTextTrimsContent(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ChatID == "c1" && m.SenderID == "user-a" && m.Content == "hello there" &&
			m.MessageType == models.MessageTypeText && m.FileURL == nil
	})).Return(models.Message{ID: "m1", ChatID: "c1", MessageType: models.MessageTypeText}, nil).Once()

	err := New(repo, zerolog.Nop()).SendText(context.Background(), "c1", "user-a", "  hello there\n")

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSendTextIgnoresBlankContent(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)

	for _, content := range []string{"", "   ", "\n\t"} {
		assert.NoError(t, New(repo, zerolog.Nop()).SendText(context.Background(), "c1", "user-a", content))
	}
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendEmojiKeepsGlyph(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Content == "👍" && m.MessageType == models.MessageTypeEmoji
	})).Return(models.Message{ID: "m1", MessageType: models.MessageTypeEmoji}, nil).Once()

	require.NoError(t, New(repo, zerolog.Nop()).SendEmoji(context.Background(), "c1", "user-a", "👍"))
	repo.AssertExpectations(t)
}

func TestSendRequiresChatAndSender(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	composer := New(repo, zerolog.Nop())

	assert.Error(t, composer.SendText(context.Background(), "", "user-a", "hi"))
	assert.Error(t, composer.SendEmoji(context.Background(), "c1", "", "🙂"))
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendWrapsRepositoryError(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	err := New(repo, zerolog.Nop()).SendText(context.Background(), "c1", "user-a", "hi")

	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "send text message")
}

func TestSendFileStoresAttachmentFields(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Content == "report.pdf" &&
			m.MessageType == models.MessageTypeFile &&
			m.FileName != nil && *m.FileName == "report.pdf" &&
			m.FileURL != nil && *m.FileURL == "http://localhost/files/uploads/1.pdf" &&
			m.FileSize != nil && *m.FileSize == 2048
	})).Return(models.Message{ID: "m1", MessageType: models.MessageTypeFile}, nil).Once()

	err := New(repo, zerolog.Nop()).SendFile(context.Background(), FileUpload{
		ChatID:   "c1",
		SenderID: "user-a",
		Name:     "report.pdf",
		Size:     2048,
		URL:      "http://localhost/files/uploads/1.pdf",
		Type:     models.MessageTypeFile,
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSendFileRejectsInvalidUpload(t *testing.T) {
	valid := FileUpload{
		ChatID: "c1", SenderID: "user-a", Name: "cat.png", Size: 10,
		URL: "http://localhost/files/uploads/1.png", Type: models.MessageTypeImage,
	}
	tests := []struct {
		name   string
		mutate func(u *FileUpload)
	}{
		{"missing name", func(u *FileUpload) { u.Name = "" }},
		{"bad url", func(u *FileUpload) { u.URL = "not a url" }},
		{"text type", func(u *FileUpload) { u.Type = models.MessageTypeText }},
		{"negative size", func(u *FileUpload) { u.Size = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.MessageRepositoryMock)
			upload := valid
			tt.mutate(&upload)

			err := New(repo, zerolog.Nop()).SendFile(context.Background(), upload)

			assert.ErrorIs(t, err, ErrInvalidUpload)
			repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestSendPublishesDomainEvent(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	observability.SetPublisher(publisher)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	publisher.On("Publish", mock.Anything, messageSentRoutingKey, mock.MatchedBy(func(e observability.EventEnvelope) bool {
		evt, ok := e.Payload.(models.MessageEvent)
		return ok && e.EventName == "message.sent" && evt.MessageID == "m1" && evt.ChatID == "c1"
	})).Return(assert.AnError).Once()

	repo := new(mocks.MessageRepositoryMock)
	repo.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: "m1", ChatID: "c1", MessageType: models.MessageTypeText}, nil)

	// a failed publish does not fail the send
	err := New(repo, zerolog.Nop()).SendText(context.Background(), "c1", "user-a", "hi")

	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestClassifyUpload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	pdf := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	assert.Equal(t, models.MessageTypeImage, ClassifyUpload(png))
	assert.Equal(t, models.MessageTypeFile, ClassifyUpload(pdf))
	assert.Equal(t, models.MessageTypeFile, ClassifyUpload([]byte("plain text")))
	assert.Equal(t, models.MessageTypeFile, ClassifyUpload(nil))
}

func TestUploadPath(t *testing.T) {
	at := time.UnixMilli(1714564800123)

	assert.Equal(t, "uploads/1714564800123-abc.png", uploadPath("cat.png", at, "abc"))
	assert.Equal(t, "uploads/1714564800123-abc.gz", uploadPath("backup.tar.gz", at, "abc"))
	assert.Equal(t, "uploads/1714564800123-abc.JPG", uploadPath("IMG_0001.JPG", at, "abc"))
	assert.Equal(t, "uploads/1714564800123-abc", uploadPath("README", at, "abc"))

	composer := New(nil, zerolog.Nop())
	composer.now = func() time.Time { return at }
	assert.Regexp(t, `^uploads/1714564800123-[0-9a-f-]{36}\.txt$`, composer.UploadPath("notes.txt"))
}

func TestUploadPathUniqueWithinMillisecond(t *testing.T) {
	at := time.UnixMilli(1714564800123)
	composer := New(nil, zerolog.Nop())
	composer.now = func() time.Time { return at }

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key := composer.UploadPath("a.txt")
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}
}
