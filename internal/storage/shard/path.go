package shard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mochivi/dataset-curator/internal/common"
)

const shardPrefix = "set-"

var ErrInvalidPath = errors.New("invalid storage path")

// Path is a parsed storage path: {dataPath}/{split}/set-{shard:03}/{label}/{fileName}
type Path struct {
	DataPath string
	Split    common.Split
	Shard    int
	Label    common.Label
	FileName string
}

func (p Path) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", p.DataPath, p.Split, ShardName(p.Shard), p.Label, p.FileName)
}

// ShardName formats a shard id, ids above 999 keep all their digits
func ShardName(shard int) string {
	return fmt.Sprintf("%s%03d", shardPrefix, shard)
}

func ParseShardName(name string) (int, error) {
	digits, ok := strings.CutPrefix(name, shardPrefix)
	if !ok || len(digits) < 3 {
		return 0, fmt.Errorf("%w: shard name %q", ErrInvalidPath, name)
	}
	shard, err := strconv.Atoi(digits)
	if err != nil || shard < 0 {
		return 0, fmt.Errorf("%w: shard name %q", ErrInvalidPath, name)
	}
	return shard, nil
}

// ParsePath is the inverse of Path.String for paths under dataPath
func ParsePath(dataPath, path string) (Path, error) {
	rest, ok := strings.CutPrefix(path, dataPath+"/")
	if !ok {
		return Path{}, fmt.Errorf("%w: %q is outside %q", ErrInvalidPath, path, dataPath)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] == "" {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	split, err := common.ParseSplit(parts[0])
	if err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	shard, err := ParseShardName(parts[1])
	if err != nil {
		return Path{}, err
	}
	label, err := common.ParseLabel(parts[2])
	if err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	return Path{DataPath: dataPath, Split: split, Shard: shard, Label: label, FileName: parts[3]}, nil
}
