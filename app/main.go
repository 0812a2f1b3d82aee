package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/flonle/diyredis/app/diyredis"
)

func main() {
	server := diyredis.MakeServer()
	flag.StringVar(&server.RdbDir, "dir", "", "the directory in which the rdb file resides")
	flag.StringVar(&server.RdbFilename, "dbfilename", "", "the name of the RDB file")
	flag.IntVar(&server.Port, "port", 6379, "the TCP port to listen on")
	flag.StringVar(&server.ReplicaOf, "replicaof", "", "'<host> <port>' of the primary to replicate from")
	flag.Parse()

	if err := server.LoadRdb(server.Keyspace); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	server.Start()
}
