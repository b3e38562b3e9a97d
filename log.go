package main

import (
	"github.com/folionet/foliod/logger"
	"github.com/folionet/foliod/util/panics"
)

var (
	log   = logger.Logger("FOLI")
	spawn = panics.GoroutineWrapperFunc(log)
)
