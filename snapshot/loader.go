package snapshot

import (
	"os"

	"github.com/pkg/errors"

	"feemarket/domain/orderbook"
)

// Load reads a snapshot written by Writer. A missing file is not an
// error; it returns nil.
func Load(path string) (*orderbook.Snapshot, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", path)
	}
	return Unmarshal(b)
}
