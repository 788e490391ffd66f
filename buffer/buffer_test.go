package buffer

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/relex/logasync-handler/buffer/memorybuffer"
	"github.com/relex/logasync-handler/buffer/sqlitebuffer"
	"github.com/stretchr/testify/assert"
)

func TestOpenSelectsMemoryBackendWhenPathUnset(t *testing.T) {
	buf, err := Open(Config{})
	assert.NoError(t, err)
	defer buf.Close()
	assert.Equal(t, reflect.TypeOf(&memorybuffer.Buffer{}), reflect.TypeOf(buf))
}

func TestOpenSelectsSQLiteBackendWhenPathSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	buf, err := Open(Config{DatabasePath: path})
	assert.NoError(t, err)
	defer buf.Close()
	assert.Equal(t, reflect.TypeOf(&sqlitebuffer.Buffer{}), reflect.TypeOf(buf))
}

func TestOpenedBufferIsUsableThroughTheSharedInterface(t *testing.T) {
	buf, err := Open(Config{})
	assert.NoError(t, err)
	defer buf.Close()

	ctx := context.Background()
	_, err = buf.Enqueue(ctx, []byte("x"), time.Now(), time.Now())
	assert.NoError(t, err)
	size, err := buf.Size(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, size)
}
