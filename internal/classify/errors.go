// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import "errors"

// ErrRulesFile is returned when a rules file cannot be read or parsed.
var ErrRulesFile = errors.New("classify: invalid rules file")
