package dbaccess

import (
	"github.com/folionet/foliod/logger"
)

var log = logger.Logger("DBAC")
