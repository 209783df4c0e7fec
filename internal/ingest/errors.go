package ingest

import "errors"

var ErrInvalidItem = errors.New("ingest item needs a valid split and label")
