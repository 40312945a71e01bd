package remote

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/driveagent/driveagent/internal/ctlerr"
)

// localClient wraps the local filesystem rooted at one bound folder.
type localClient struct {
	root string
}

// NewLocalClient returns a LocalClient rooted at root, which must already
// exist (BindServer creates it before constructing the client).
func NewLocalClient(root string) LocalClient {
	return &localClient{root: root}
}

func (c *localClient) GetInfo(relPath string) (LocalInfo, error) {
	full := filepath.Join(c.root, filepath.FromSlash(relPath))
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return LocalInfo{}, ctlerr.New(ctlerr.NotFound, "remote.LocalClient.GetInfo", err)
		}
		return LocalInfo{}, fmt.Errorf("remote.LocalClient.GetInfo: %w", err)
	}

	return LocalInfo{
		Path:       relPath,
		Name:       fi.Name(),
		Size:       fi.Size(),
		Folderish:  fi.IsDir(),
		ModifiedAt: fi.ModTime(),
	}, nil
}
