// Package register registers all built-in sensor models.
package register

import (
	// register models
	_ "go.viam.com/fuse/models/graphignition"
	_ "go.viam.com/fuse/models/pose2d"
	_ "go.viam.com/fuse/models/unicycle2d"
)
