package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/updepot/updepot/pkg/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	globalConfig, err := client.ReadGlobalConfig()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Println(err)
		os.Exit(1)
	}

	if err != nil && errors.Is(err, os.ErrNotExist) {
		if err := client.WriteGlobalConfig(client.GlobalConfig{APIKeys: map[string]string{}}); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("Wrote new empty global config")
		return
	}

	cmd := os.Args[1:]

	if cmd[0] == "global" {
		if len(cmd) < 2 {
			fmt.Println("user         ", globalConfig.User)
			fmt.Println("token        ", globalConfig.Token)
			fmt.Println("serverBaseUrl", globalConfig.ServerBaseUrl)
			for project, key := range globalConfig.APIKeys {
				fmt.Printf("apiKey %s %s\n", project, key)
			}
			return
		}
		saveConfig := false
		switch cmd[1] {
		case "serverBaseUrl":
			if len(cmd) == 2 {
				fmt.Println(globalConfig.ServerBaseUrl)
			} else if len(cmd) == 3 {
				globalConfig.ServerBaseUrl = cmd[2]
				saveConfig = true
			} else {
				fmt.Println("Too many arguments")
				os.Exit(1)
			}
		case "user":
			if len(cmd) == 2 {
				fmt.Println(globalConfig.User)
			} else if len(cmd) == 3 {
				globalConfig.User = cmd[2]
				saveConfig = true
			} else {
				fmt.Println("Too many arguments")
				os.Exit(1)
			}
		case "apiKey":
			if len(cmd) == 3 {
				fmt.Println(globalConfig.APIKeys[cmd[2]])
			} else if len(cmd) == 4 {
				if globalConfig.APIKeys == nil {
					globalConfig.APIKeys = map[string]string{}
				}
				globalConfig.APIKeys[cmd[2]] = cmd[3]
				saveConfig = true
			} else {
				fmt.Println("usage: updepot global apiKey <project> [key]")
				os.Exit(1)
			}
		}
		if saveConfig {
			if err := client.WriteGlobalConfig(globalConfig); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
		}

		return
	}

	if cmd[0] == "login" {
		if globalConfig.ServerBaseUrl == "" {
			fmt.Print("Server base url: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			globalConfig.ServerBaseUrl = strings.Trim(line, "\n")
		}
		fmt.Printf("Login for %s\n", globalConfig.ServerBaseUrl)
		var username string
		fmt.Print("Username: ")
		fmt.Scanln(&username)
		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println()

		if err := client.Login(globalConfig, username, string(password)); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		fmt.Println("Logged in")
		return
	}

	if globalConfig.ServerBaseUrl == "" {
		fmt.Println("Error: config serverBaseUrl empty")
		os.Exit(1)
	}

	ctx := context.Background()

	switch cmd[0] {
	case "upload":
		if len(cmd) < 4 {
			fmt.Println("usage: updepot upload <project> <version> <file> [notes]")
			os.Exit(1)
		}
		notes := ""
		if len(cmd) > 4 {
			notes = cmd[4]
		}
		record, err := client.UploadRelease(ctx, globalConfig, cmd[1], cmd[2], notes, cmd[3], "")
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("Published %s %s as %s\n", cmd[1], record.Version, record.FileName)
	case "latest":
		if len(cmd) < 2 {
			fmt.Println("usage: updepot latest <project>")
			os.Exit(1)
		}
		record, err := client.FetchLatest(ctx, globalConfig, cmd[1])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("version     ", record.Version)
		fmt.Println("releaseDate ", record.ReleaseDate)
		fmt.Println("releaseNotes", record.ReleaseNotes)
		fmt.Println("downloadUrl ", record.DownloadURL)
	case "versions":
		if len(cmd) < 2 {
			fmt.Println("usage: updepot versions <project>")
			os.Exit(1)
		}
		records, err := client.FetchVersions(ctx, globalConfig, cmd[1])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		for _, record := range records {
			fmt.Printf("- %s %s %s\n", record.Version, record.ReleaseDate.Format("2006-01-02"), record.FileName)
		}
	case "download":
		if len(cmd) < 3 {
			fmt.Println("usage: updepot download <project> <version> [dir]")
			os.Exit(1)
		}
		dir := "."
		if len(cmd) > 3 {
			dir = cmd[3]
		}
		path, err := client.DownloadRelease(ctx, globalConfig, cmd[1], cmd[2], dir)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("Downloaded %s\n", path)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`Usage: updepot <command> [args]
commands:
  download  Download a version's artifact
  global    Read or write global config
  latest    Show the newest version of a project
  login     Login to an updepot server
  upload    Publish a new version
  versions  List every version of a project
`)
}
