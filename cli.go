package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nexusbbs/nexus/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("nexus %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "channels":
		return cliChannels(args[1:], dbPath)
	case "settings":
		return cliSettings(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	case "users":
		return cliUsers(args[1:], dbPath)
	case "bans":
		return cliRules(args[1:], dbPath, "ban")
	case "trusts":
		return cliRules(args[1:], dbPath, "trust")
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	name, _, _ := st.GetSetting("server_name")
	chs, _ := st.GetChannels()
	n := len(chs)
	fmt.Printf("Server: %s\n", name)
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Channels: %d\n", n)
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliChannels(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		chs, err := st.GetChannels()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(chs) == 0 {
			fmt.Println("No channels found.")
			return true
		}
		for _, ch := range chs {
			fmt.Printf("  %s (%s)\n", ch.DisplayName, ch.Name)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		if err := st.CreateChannel(name); err != nil {
			fmt.Fprintf(os.Stderr, "error creating channel: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created channel %q\n", name)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server channels [list|create <name>]\n")
	os.Exit(1)
	return true
}

func cliSettings(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		settings, err := st.GetAllSettings()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(settings, "", "  ")
		fmt.Println(string(out))
		return true
	}

	if args[0] == "set" && len(args) > 2 {
		key, value := args[1], args[2]
		if err := st.SetSetting(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server settings [list|set <key> <value>]\n")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	outPath := "nexus-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}

// cliUsers administers accounts offline, without going through a live
// session's UserCreate/UserDelete handler. It enforces the same
// last-admin and guest-account invariants those handlers enforce
// online (spec.md §4.8), since this path bypasses them entirely.
func cliUsers(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		accounts, err := st.ListAccounts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found.")
			return true
		}
		for _, a := range accounts {
			flags := ""
			if a.Admin {
				flags += " admin"
			}
			if a.Shared {
				flags += " shared"
			}
			if !a.Enabled {
				flags += " disabled"
			}
			fmt.Printf("  %s%s\n", a.Username, flags)
		}
		return true
	}

	if args[0] == "create" && len(args) > 2 {
		username, password := args[1], args[2]
		isAdmin := len(args) > 3 && args[3] == "admin"

		if existing, _ := st.GetAccountByUsername(username); existing != nil {
			fmt.Fprintf(os.Stderr, "error: username %q already exists\n", username)
			os.Exit(1)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing password: %v\n", err)
			os.Exit(1)
		}
		if _, err := st.CreateAccount(store.Account{
			Username:         username,
			PasswordVerifier: string(hash),
			Admin:            isAdmin,
			Enabled:          true,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "error creating account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created account %q\n", username)
		return true
	}

	if args[0] == "delete" && len(args) > 1 {
		username := args[1]
		if username == store.GuestUsername {
			fmt.Fprintf(os.Stderr, "error: the guest account cannot be deleted\n")
			os.Exit(1)
		}
		account, err := st.GetAccountByUsername(username)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if account == nil {
			fmt.Fprintf(os.Stderr, "error: no such account %q\n", username)
			os.Exit(1)
		}
		if account.Admin {
			n, err := st.CountAdmins()
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			if n <= 1 {
				fmt.Fprintf(os.Stderr, "error: cannot delete the last remaining admin\n")
				os.Exit(1)
			}
		}
		if err := st.DeleteAccount(account.ID); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted account %q\n", username)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server users [list|create <username> <password> [admin]|delete <username>]\n")
	os.Exit(1)
	return true
}

// cliRules administers the persisted ban/trust IP rule lists (spec.md §4.9);
// kind selects which table ("ban" or "trust") a subcommand invocation acts
// on, mirroring the single ip_rule_cache the server loads both into at
// startup.
func cliRules(args []string, dbPath string, kind string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	list, insert, remove := st.ListBans, st.InsertBan, st.DeleteBan
	if kind == "trust" {
		list, insert, remove = st.ListTrusts, st.InsertTrust, st.DeleteTrust
	}

	if len(args) == 0 || args[0] == "list" {
		rules, err := list()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(rules) == 0 {
			fmt.Printf("No %ss found.\n", kind)
			return true
		}
		for _, r := range rules {
			expiry := "permanent"
			if r.ExpiresAt != nil {
				expiry = time.Unix(*r.ExpiresAt, 0).Format(time.RFC3339)
			}
			fmt.Printf("  %s  expires=%s  nickname=%q  reason=%q\n", r.CIDR, expiry, r.Nickname, r.Reason)
		}
		return true
	}

	if args[0] == "add" && len(args) > 1 {
		cidr := args[1]
		rest := args[2:]

		var expiresAt *int64
		if len(rest) > 0 {
			if ttlSeconds, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
				at := time.Now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
				expiresAt = &at
				rest = rest[1:]
			}
		}
		reason := ""
		for i, word := range rest {
			if i > 0 {
				reason += " "
			}
			reason += word
		}

		if err := insert(store.Rule{CIDR: cidr, ExpiresAt: expiresAt, Reason: reason}); err != nil {
			fmt.Fprintf(os.Stderr, "error adding %s: %v\n", kind, err)
			os.Exit(1)
		}
		fmt.Printf("Added %s for %s\n", kind, cidr)
		return true
	}

	if args[0] == "remove" && len(args) > 1 {
		cidr := args[1]
		if err := remove(cidr); err != nil {
			fmt.Fprintf(os.Stderr, "error removing %s: %v\n", kind, err)
			os.Exit(1)
		}
		fmt.Printf("Removed %s for %s\n", kind, cidr)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server %ss [list|add <cidr> [ttl-seconds] [reason]|remove <cidr>]\n", kind)
	os.Exit(1)
	return true
}
