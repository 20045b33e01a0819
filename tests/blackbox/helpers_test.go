//go:build blackbox

package blackbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

// paperConfig writes a complete configuration with a paper leader and two
// paper followers, journaling to sqlite under dir. Returns the config path.
func paperConfig(t *testing.T, dir string) string {
	t.Helper()

	cfg := `leader:
  user_id: leader
  exchange: paper
  paper_equity: 10000

followers:
  - user_id: follower-1
    exchange: paper
    enabled: true
    risk_multiplier: 1.0
    paper_equity: 5000
  - user_id: follower-2
    exchange: paper
    enabled: true
    risk_multiplier: 0.1
    paper_equity: 10000

journal:
  type: sqlite
  db_path: ` + filepath.Join(dir, "journal.db") + `

log:
  level: warn
`
	path := filepath.Join(dir, "copytrader.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeAction writes a leader action JSON file and returns its path.
func writeAction(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "action.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
