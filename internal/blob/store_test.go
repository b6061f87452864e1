package blob_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliancehub/internal/blob"
)

func TestKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	cases := map[string]string{
		"informe.pdf":          "informe_1700000000123.pdf",
		"Acta Final.DOCX":      "Acta Final_1700000000123.docx",
		"C:\\tmp\\plano.dwg":   "plano_1700000000123.dwg",
		"../../etc/passwd":     "passwd_1700000000123",
		".pdf":                 "document_1700000000123.pdf",
		"cotización?v=2#a.xls": "cotización_v=2_a_1700000000123.xls",
	}
	for in, want := range cases {
		assert.Equal(t, want, blob.Key(in, now), in)
	}
}

func TestUniqueKeyDiffersWithinOneMillisecond(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	a := blob.UniqueKey("informe.pdf", now)
	b := blob.UniqueKey("informe.pdf", now)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^informe_1700000000123-[0-9a-f]{8}\.pdf$`, a)
	assert.Regexp(t, `^passwd_1700000000123-[0-9a-f]{8}$`, blob.UniqueKey("../../etc/passwd", now))
}

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := blob.NewMemStore("docs")
	path, err := s.Put(ctx, "a b_1.txt", strings.NewReader("hola"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "mem://docs/a%20b_1.txt", path)

	obj, err := s.Get(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	assert.Equal(t, "hola", string(data))
	assert.EqualValues(t, 4, obj.Size)
	assert.Equal(t, "text/plain", obj.ContentType)

	require.NoError(t, s.Delete(ctx, path))
	assert.Equal(t, 0, s.Len())
	_, err = s.Get(ctx, path)
	assert.True(t, errors.Is(err, blob.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, path), blob.ErrNotFound))
}
