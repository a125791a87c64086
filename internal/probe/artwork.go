package probe

import (
	"context"
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

// TagArtworkReader pulls embedded cover art out of audio container tags
// (ID3, MP4 atoms, FLAC/OGG pictures). It only works for locators that are
// local paths; remote streams simply have no tag-readable cover here.
type TagArtworkReader struct{}

func (TagArtworkReader) ReadCover(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(locator)
	if err != nil {
		return nil, fmt.Errorf("open for tags: %w", err)
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	pic := meta.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, nil
	}
	return pic.Data, nil
}
