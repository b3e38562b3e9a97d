package balancerv3

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("DECO")
