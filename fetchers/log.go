package fetchers

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("FETC")
