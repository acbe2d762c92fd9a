package reqmanager

import "errors"

// ErrNoRequests is returned by AddRequests when given an empty recording;
// callers must call RecordNoRequests instead.
var ErrNoRequests = errors.New("reqmanager: no requests recorded, call RecordNoRequests")

// ErrNotImplemented is returned by AddAffiliatedRequestSet, which spec §11
// leaves as a named but unspecified extension point.
var ErrNotImplemented = errors.New("reqmanager: addAffiliatedRequestSet not implemented")
