package coordinator

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("COOR")
