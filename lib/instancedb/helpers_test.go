package instancedb

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/cvdhost/cvdd/lib/paths"
)

func testPaths(t *testing.T) *paths.Paths {
	t.Helper()
	return paths.New(t.TempDir())
}

func mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func marshalGroupsDoc(groups []Group) ([]byte, error) {
	return json.Marshal(struct {
		Groups []Group `json:"Groups"`
	}{Groups: groups})
}
