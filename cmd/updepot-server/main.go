package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/updepot/updepot/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Configuration file")
	flag.Parse()

	cmd := flag.Args()
	if len(cmd) == 0 {
		usage()
		return
	}

	if cmd[0] == "newconfig" {
		if len(cmd) != 2 {
			fmt.Println("usage: updepot-server newconfig <path>")
			os.Exit(1)
		}
		if err := server.WriteNewConfig(cmd[1]); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		return
	}

	if *configPath != "" {
		server.SetExplicitConfigFile(*configPath)
	}

	config, err := server.ReadAndInitializeConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	switch cmd[0] {
	case "server":
		if err := server.RunServer(config); err != nil {
			log.Fatal(err)
		}
	case "useradd":
		if len(cmd) < 2 {
			fmt.Println("usage: updepot-server useradd <username> [role]")
			return
		}
		user := cmd[1]
		role := server.RoleOwner
		if len(cmd) > 2 {
			role = cmd[2]
		}
		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println()
		if _, err := config.CreateUser(user, string(password), role); err != nil {
			log.Fatal(err)
		}
		log.Printf("Added user %s with role %s", user, role)
	case "userdel":
		if len(cmd) < 2 {
			fmt.Println("usage: updepot-server userdel <username>")
			return
		}
		user := cmd[1]
		if err := config.DeleteUser(user); err != nil {
			log.Fatal(err)
		}
		log.Printf("Deleted user %s", user)
	case "projectadd":
		if len(cmd) < 3 {
			fmt.Println("usage: updepot-server projectadd <id> <owner> [name]")
			os.Exit(1)
		}
		id := cmd[1]
		owner := cmd[2]
		name := ""
		if len(cmd) > 3 {
			name = cmd[3]
		}
		project, err := config.CreateProject(id, name, owner)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("API key: %s\n", project.APIKey)
	case "projectdel":
		if len(cmd) < 2 {
			fmt.Println("usage: updepot-server projectdel <id>")
			return
		}
		id := cmd[1]
		if err := config.DeleteProject(id, true); err != nil {
			log.Fatal(err)
		}
		log.Printf("Deleted project %s", id)
	case "keyrotate":
		if len(cmd) < 2 {
			fmt.Println("usage: updepot-server keyrotate <id>")
			return
		}
		id := cmd[1]
		project, err := config.RotateProjectKey(id)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("API key: %s\n", project.APIKey)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: updepot-server [options] <command> [args]")
	flag.PrintDefaults()
	fmt.Printf(`
  commands:
    newconfig  <file>
    server
    useradd    <username> [role]
    userdel    <username>
    projectadd <id> <owner> [name]
    projectdel <id>
    keyrotate  <id>
`)
}
