package balancerv2

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("DECO")
