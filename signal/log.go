package signal

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("FOLI")
