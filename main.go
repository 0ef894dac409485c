// Public domain.

package main

import "github.com/psat-ml/rbscore/internal/rbprog"

func main() {
	rbprog.Main()
}
