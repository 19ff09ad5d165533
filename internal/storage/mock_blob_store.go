package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of BlobStore. The reader is drained and
// passed to the expectation as a string.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call.
func (m *MockBlobStore) PutObject(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, objectPath, contentType, string(body))
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
