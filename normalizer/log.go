package normalizer

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("NORM")
