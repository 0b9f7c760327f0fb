package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"association-chat/internal/models"
)

type AttachmentStoreMock struct {
	mock.Mock
}

func (m *AttachmentStoreMock) Upload(ctx context.Context, ownerID int64, name string, r io.Reader, size int64, contentType string) (models.Attachment, error) {
	args := m.Called(ctx, ownerID, name, r, size, contentType)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}
