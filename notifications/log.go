package notifications

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("NOTI")
