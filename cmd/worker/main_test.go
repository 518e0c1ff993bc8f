package main

import (
	"testing"

	_ "github.com/channeladmin/channeladmin/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	main()
}
