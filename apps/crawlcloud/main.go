package main

import "github.com/sellerwatch/crawl-cloud/internal/cli"

func main() {
	cli.Execute()
}
