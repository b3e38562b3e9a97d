package server

import (
	"github.com/folionet/foliod/logger"
	"github.com/folionet/foliod/util/panics"
)

var (
	log   = logger.Logger("SRVR")
	spawn = panics.GoroutineWrapperFunc(log)
)
