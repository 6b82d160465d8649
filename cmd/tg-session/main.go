// Command tg-session logs a telegram account in and prints or stores its
// session string for the extraction service.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session/tdesktop"

	"github.com/blockedby/tg-extractor/internal/config"
	"github.com/blockedby/tg-extractor/internal/database"
	"github.com/blockedby/tg-extractor/internal/repository"
	"github.com/blockedby/tg-extractor/internal/telegram"
)

func main() {
	store := flag.Bool("store", false, "save the session for the logged in user in DATABASE_URL")
	tdata := flag.String("tdata", "", "telegram desktop tdata directory (default: platform location)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}

	reader := bufio.NewReader(os.Stdin)
	apiID, apiHash := apiCredentials(cfg, reader)

	client, err := login(apiID, apiHash, *tdata, reader)
	if err != nil {
		fail("login: %v", err)
	}
	defer client.Stop()

	session, err := client.ExportStringSession()
	if err != nil {
		fail("export session: %v", err)
	}
	fmt.Printf("\n✓ logged in as @%s (id %d)\n", client.Self.Username, client.Self.ID)

	if *store {
		if err := save(cfg.DatabaseURL, client.Self.ID, session); err != nil {
			fail("store session: %v", err)
		}
		fmt.Println("session stored, the service will use it on the next run")
		return
	}

	fmt.Println("\nsession string:")
	fmt.Println("---")
	fmt.Println(session)
	fmt.Println("---")
	fmt.Printf("\nimport it with PUT /api/v1/sessions/%d {\"session\": \"...\"}\n", client.Self.ID)
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func save(databaseURL string, userID int64, session string) error {
	ctx := context.Background()
	db, err := database.New(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.NewUsersRepository(db.Pool).Ensure(ctx, userID); err != nil {
		return err
	}
	return repository.NewSessionsRepository(db.GORM).Save(ctx, userID, session, telegram.FormatGotgproto)
}

// login prefers a telegram desktop session and falls back to phone login.
func login(apiID int, apiHash, tdataPath string, reader *bufio.Reader) (*gotgproto.Client, error) {
	if tdataPath == "" {
		tdataPath = defaultTDataPath()
	}
	accounts, err := tdesktop.Read(tdataPath, nil)
	if err == nil && len(accounts) > 0 {
		fmt.Printf("found %d telegram desktop account(s) at %s\n", len(accounts), tdataPath)
		if !strings.EqualFold(prompt(reader, "use it? [Y/n]: "), "n") {
			return loginTData(apiID, apiHash, pickAccount(accounts, reader))
		}
	}
	return loginPhone(apiID, apiHash, reader)
}

func pickAccount(accounts []tdesktop.Account, reader *bufio.Reader) tdesktop.Account {
	if len(accounts) == 1 {
		return accounts[0]
	}
	n, err := strconv.Atoi(prompt(reader, fmt.Sprintf("account number 1-%d [1]: ", len(accounts))))
	if err != nil || n < 1 || n > len(accounts) {
		n = 1
	}
	return accounts[n-1]
}

func loginTData(apiID int, apiHash string, account tdesktop.Account) (*gotgproto.Client, error) {
	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(account).Name("tdata_session"),
			InMemory:         true,
			DisableCopyright: true,
		},
	)
}

func loginPhone(apiID int, apiHash string, reader *bufio.Reader) (*gotgproto.Client, error) {
	phone := prompt(reader, "phone number with country code (e.g. +1234567890): ")
	fmt.Println("authenticating... check telegram for the code")

	// the sqlite file only holds state until the string session is exported
	dir, err := os.MkdirTemp("", "tg-session")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(filepath.Join(dir, "session.db"))),
			DisableCopyright: true,
		},
	)
}

func apiCredentials(cfg *config.Config, reader *bufio.Reader) (int, string) {
	apiID, apiHash := cfg.TGApiID, cfg.TGApiHash
	if apiID == 0 {
		id, err := strconv.Atoi(prompt(reader, "api_id (from https://my.telegram.org): "))
		if err != nil {
			fail("invalid api_id: %v", err)
		}
		apiID = id
	}
	if apiHash == "" {
		apiHash = prompt(reader, "api_hash: ")
	}
	return apiID, apiHash
}

func prompt(reader *bufio.Reader, text string) string {
	fmt.Print(text)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// defaultTDataPath returns the telegram desktop data directory of the platform.
func defaultTDataPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}
