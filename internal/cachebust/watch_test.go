package cachebust

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_RefreshesOnAssetChange(t *testing.T) {
	dir := t.TempDir()
	css := writeSiteFile(t, dir, "style.css", "body {}\n")
	setMtime(t, css, 1000)
	page := writeSiteFile(t, dir, "index.html", `<link href="style.css">`)

	rw := NewRewriter(Options{
		Dir:       dir,
		AssetExts: []string{".css"},
		PageExts:  []string{".html"},
		Debounce:  50 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := make(chan error, 16)
	done := make(chan error, 1)
	go func() {
		done <- rw.Watch(ctx, func(_ *Report, err error) { passes <- err })
	}()

	select {
	case err := <-passes:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("initial refresh did not run")
	}
	assert.Equal(t, `<link href="style.css?m=1000">`, readSiteFile(t, page))

	require.NoError(t, os.WriteFile(css, []byte("body { color: red }\n"), 0644))

	assert.Eventually(t, func() bool {
		select {
		case <-passes:
		default:
		}
		data, err := os.ReadFile(page)
		if err != nil {
			return false
		}
		content := string(data)
		return content != `<link href="style.css?m=1000">` && strings.HasPrefix(content, `<link href="style.css?m=`)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	rw := NewRewriter(Options{Dir: t.TempDir() + "/missing"}, testLogger())

	err := rw.Watch(context.Background(), func(*Report, error) {})
	assert.Error(t, err)
}
