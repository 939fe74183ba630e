package main

import (
	"os"
)

// @title Autoenrol API
// @version 1.0.0
// @description Rule driven course enrolment reconciliation for the host LMS.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey ServiceToken
// @in header
// @name Authorization

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
