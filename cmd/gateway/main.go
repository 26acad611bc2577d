package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"

	"github.com/jrsteele09/go-oidc-gateway/gateway"
	"github.com/jrsteele09/go-oidc-gateway/internal/config"
	"github.com/jrsteele09/go-oidc-gateway/oidcclient"
	"github.com/jrsteele09/go-oidc-gateway/server"
	"github.com/jrsteele09/go-oidc-gateway/sessions"
	"github.com/jrsteele09/go-oidc-gateway/token"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	c := config.New()
	displayAppname(c.GetAppName())

	ctx := context.Background()

	sessionRepo, err := sessions.NewRedisRepo(ctx, c.GetRedisURL())
	if err != nil {
		return fmt.Errorf("sessions.NewRedisRepo: %w", err)
	}

	oidcClient, err := oidcclient.New(ctx, oidcclient.Config{
		ClientID:              c.GetClientID(),
		ClientSecret:          c.GetClientSecret(),
		RedirectURI:           c.GetRedirectURI(),
		Scopes:                strings.Fields(c.GetScopes()),
		IssuerURL:             c.GetIssuerURL(),
		AuthURL:               c.GetAuthURL(),
		TokenURL:              c.GetTokenURL(),
		LogoutURL:             c.GetLogoutURL(),
		UserInfoURL:           c.GetUserInfoURL(),
		PostLogoutRedirectURI: c.GetPostLogoutRedirectURI(),
		UseDiscovery:          c.UseDiscovery(),
	})
	if err != nil {
		return fmt.Errorf("oidcclient.New: %w", err)
	}

	validator := token.NewValidator(c.GetIssuerURL(), c.GetClientID(), c.GetJWKSURL())

	gw, err := gateway.New(sessionRepo, oidcClient, validator)
	if err != nil {
		return fmt.Errorf("gateway.New: %w", err)
	}

	srv, err := server.New(c, gw)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
