package taskmanager

import (
	"github.com/folionet/foliod/logger"
	"github.com/folionet/foliod/util/panics"
)

var (
	log   = logger.Logger("TASK")
	spawn = panics.GoroutineWrapperFunc(log)
)
