package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	"LegacyVault/config"
	"LegacyVault/pkg/token"
)

// ownertoken 为运维账号签发所有者 JWT，用于调用 /v1/monitor 等管理接口
func main() {
	userID := flag.String("user", "", "owner user id")
	requireAdmin := flag.Bool("admin", true, "refuse ids not listed in ADMIN_USER_IDS")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: ownertoken -user <id>")
		os.Exit(2)
	}

	config.MustLoad()
	if *requireAdmin && !slices.Contains(config.Cfg.AdminUserIDs, *userID) {
		fmt.Fprintf(os.Stderr, "%s is not in ADMIN_USER_IDS\n", *userID)
		os.Exit(1)
	}

	if err := token.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	signed, err := token.IssueOwnerToken(*userID, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
