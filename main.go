package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"aifree-bot/authstore"
	"aifree-bot/challenge"
	"aifree-bot/config"
	"aifree-bot/interceptor"
	"aifree-bot/ledger"
	"aifree-bot/machineid"
	"aifree-bot/mailbox"
	"aifree-bot/netcheck"
	"aifree-bot/page"
	"aifree-bot/platform"
	"aifree-bot/progress"
	"aifree-bot/signup"
)

const (
	cursorSignUpURL   = "https://authenticator.cursor.sh/sign-up"
	cursorSettingsURL = "https://www.cursor.com/settings"

	windsurfRegisterURL = "https://codeium.com/account/register"
	windsurfProfileURL  = "https://codeium.com/profile"
)

type app struct {
	cfg      *config.Config
	accounts *ledger.Ledger
	services platform.Services
	proxySvc *interceptor.Service
	settings *config.RemoteSettings

	// The browser session and the local stores are exclusively owned by
	// the active operation, so only one runs at a time.
	flowSem *semaphore.Weighted
	stdin   *bufio.Reader
}

func main() {
	// Child-process mode: serve the proxy engine and nothing else.
	if len(os.Args) > 1 && os.Args[1] == "proxy" {
		fs := flag.NewFlagSet("proxy", flag.ExitOnError)
		port := fs.Int("port", 8080, "listen port")
		certs := fs.String("certs", "", "certificate directory")
		fs.Parse(os.Args[2:])
		log.Fatal(interceptor.RunEngine(*port, *certs))
	}

	cfg := config.Load()
	a := &app{
		cfg:      cfg,
		accounts: ledger.New(cfg.LedgerPath),
		services: platform.Current(),
		flowSem:  semaphore.NewWeighted(1),
		stdin:    bufio.NewReader(os.Stdin),
	}
	a.proxySvc = interceptor.NewService(a.services, cfg.CertDir)

	if settings, err := config.FetchSettings(cfg.SettingsURL, "settings.json"); err == nil {
		a.settings = settings
		if msg := settings.Message["en"]; msg != "" {
			fmt.Println(msg)
		}
	} else {
		log.Printf("settings fetch: %v", err)
	}

	a.menuLoop()
}

func (a *app) menuLoop() {
	for {
		fmt.Println()
		fmt.Println("1) create cursor account")
		fmt.Println("2) create windsurf account")
		fmt.Println("3) reset machine identifiers")
		fmt.Println("4) toggle request interceptor")
		fmt.Println("5) switch stored account")
		fmt.Println("0) exit")
		fmt.Print("> ")

		switch a.readLine() {
		case "1":
			a.guard(func() { a.runSignUp(ledger.ServiceCursor) })
		case "2":
			a.guard(func() { a.runSignUp(ledger.ServiceWindsurf) })
		case "3":
			a.guard(a.runReset)
		case "4":
			a.guard(a.toggleInterceptor)
		case "5":
			a.guard(a.switchAccount)
		case "0":
			a.proxySvc.Stop(nil)
			return
		}
	}
}

// guard keeps an unexpected panic in one operation from taking down the
// whole menu loop.
func (a *app) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("operation failed unexpectedly:", r)
		}
	}()
	fn()
}

func (a *app) readLine() string {
	line, _ := a.stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// consume drains a progress stream to the console, interpreting the
// control sentinels.
func (a *app) consume(stream *progress.Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	for msg := range stream.Events() {
		switch msg {
		case progress.ClearLog:
			fmt.Print("\033[H\033[2J")
		case progress.RefreshAccounts:
			a.printAccounts()
		default:
			fmt.Println("  " + msg)
		}
	}
}

func (a *app) printAccounts() {
	accounts, err := a.accounts.Accounts()
	if err != nil {
		log.Printf("read accounts: %v", err)
		return
	}
	for i, acc := range accounts {
		fmt.Printf("  %d) [%s] %s (%s)\n", i+1, acc.Service, acc.Email, acc.Date)
	}
}

func (a *app) featureEnabled(service ledger.Service) bool {
	enabled, msg := a.settings.FeatureEnabled(string(service))
	if !enabled {
		fmt.Println("this feature is currently unavailable")
		if msg != "" {
			fmt.Println(msg)
		}
	}
	return enabled
}

func (a *app) runSignUp(service ledger.Service) {
	if !a.featureEnabled(service) {
		return
	}
	if !a.flowSem.TryAcquire(1) {
		fmt.Println("another operation is already running")
		return
	}
	defer a.flowSem.Release(1)

	ctx := context.Background()
	if a.cfg.RouterURL != "" {
		rotateCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		if err := netcheck.RotateIP(rotateCtx, a.cfg.RouterURL, a.cfg.RouterUser, a.cfg.RouterPass); err != nil {
			log.Printf("egress rotation: %v", err)
		}
		cancel()
	}

	// Fresh identifiers before each sign-up so the new account is not
	// tied to the previous installation.
	if resetter, err := machineid.NewResetter(); err == nil {
		if ok, msg := resetter.Reset(); !ok {
			log.Printf("machine id reset skipped: %s", msg)
		}
	}

	var mail mailbox.Client
	if a.cfg.EmailVerifier == "imap" {
		mail = mailbox.NewImap(a.cfg.Imap)
	} else {
		tm, err := mailbox.NewTempMail(a.cfg.TempMailAPI)
		if err != nil {
			fmt.Println("mailbox unavailable:", err)
			return
		}
		mail = tm
	}

	session, err := page.NewSession(a.cfg.Proxy)
	if err != nil {
		fmt.Println("browser session:", err)
		return
	}
	defer session.Close()

	solver := challenge.NewSolver()
	solver.SiteURL = cursorSignUpURL
	flow := &signup.Flow{
		Service:      service,
		Page:         session,
		Mailbox:      mail,
		Solver:       solver,
		Ledger:       a.accounts,
		Stream:       progress.NewStream(),
		SignUpURL:    cursorSignUpURL,
		SettingsURL:  cursorSettingsURL,
		CodeAttempts: a.cfg.CodeMaxAttempts,
	}
	if service == ledger.ServiceWindsurf {
		solver.NextStepText = "Sign up"
		solver.SiteURL = windsurfRegisterURL
		flow.SignUpURL = windsurfRegisterURL
		flow.SettingsURL = windsurfProfileURL
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go a.consume(flow.Stream, &wg)

	account, err := flow.Run(ctx)
	flow.Stream.Close()
	wg.Wait()

	if err != nil {
		fmt.Println("sign-up failed:", err)
		return
	}
	fmt.Printf("created %s account %s\n", account.Service, account.Email)

	if service == ledger.ServiceCursor {
		a.applyAuth(account.Email, account.Token)
	}
}

// applyAuth swaps the captured credential into the installed client.
func (a *app) applyAuth(email, token string) {
	store, err := authstore.Open()
	if err != nil {
		fmt.Println("auth store:", err)
		return
	}
	defer store.Close()

	stream := progress.NewStream()
	var wg sync.WaitGroup
	wg.Add(1)
	go a.consume(stream, &wg)
	err = store.UpdateAuth(stream, email, token, token)
	stream.Close()
	wg.Wait()
	if err != nil {
		fmt.Println("auth update failed:", err)
		return
	}
	fmt.Println("installed client now uses", email)
}

func (a *app) runReset() {
	if !a.flowSem.TryAcquire(1) {
		fmt.Println("another operation is already running")
		return
	}
	defer a.flowSem.Release(1)

	if runtime.GOOS == "windows" && !a.services.IsAdmin() {
		fmt.Println("administrator rights are required; re-run from an elevated shell")
		return
	}
	resetter, err := machineid.NewResetter()
	if err != nil {
		fmt.Println("reset unavailable:", err)
		return
	}
	ok, msg := resetter.Reset()
	if !ok {
		fmt.Println("reset failed:", msg)
		return
	}
	fmt.Println("identifiers regenerated:")
	fmt.Println(msg)
}

func (a *app) toggleInterceptor() {
	if runtime.GOOS == "windows" && !a.services.IsAdmin() {
		fmt.Println("administrator rights are required; re-run from an elevated shell")
		return
	}
	stream := progress.NewStream()
	var wg sync.WaitGroup
	wg.Add(1)
	go a.consume(stream, &wg)

	var err error
	if a.proxySvc.Running() {
		err = a.proxySvc.Stop(stream)
	} else {
		err = a.proxySvc.Start(stream)
	}
	stream.Close()
	wg.Wait()
	if err != nil {
		fmt.Println("interceptor:", err)
	}
}

// switchAccount points the installed client at a previously captured
// account without creating a new one.
func (a *app) switchAccount() {
	accounts, err := a.accounts.Accounts()
	if err != nil || len(accounts) == 0 {
		fmt.Println("no stored accounts")
		return
	}
	a.printAccounts()
	fmt.Print("account number> ")
	n, err := strconv.Atoi(a.readLine())
	if err != nil || n < 1 || n > len(accounts) {
		fmt.Println("invalid selection")
		return
	}
	acc := accounts[n-1]
	if acc.Token == "" {
		fmt.Println("selected account has no stored token")
		return
	}
	a.applyAuth(acc.Email, acc.Token)
}
