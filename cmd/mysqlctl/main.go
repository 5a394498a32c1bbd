package main

import "github.com/fyerfyer/mysql-async-client/cmd/mysqlctl/cmd"

func main() {
	cmd.Execute()
}
