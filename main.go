package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/cookiejar"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/audit"
	"github.com/gooddata/freeipa-manager-sub000/config"
	"github.com/gooddata/freeipa-manager-sub000/freeipa"
	"github.com/gooddata/freeipa-manager-sub000/integrity"
	"github.com/gooddata/freeipa-manager-sub000/ldapsource"
	"github.com/gooddata/freeipa-manager-sub000/reconcile"
	"github.com/gooddata/freeipa-manager-sub000/repo"
)

func main() {
	action := flag.String("action", "check", "check, push or pull")
	envFile := flag.String("env", "settings.env", "dotenv file with connection settings")
	settingsFile := flag.String("settings", "settings.yaml", "reconciliation settings file")
	repoDir := flag.String("repo", ".", "desired-state repository directory")
	force := flag.Bool("force", false, "actually execute instead of dry run")
	enableDeletion := flag.Bool("enable-deletion", false, "allow destructive commands on push")
	addOnly := flag.Bool("add-only", false, "pull: never delete desired-state files")
	useLDAP := flag.Bool("ldap", false, "load actual state via LDAP instead of the API")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx := context.Background()

	env, err := config.LoadEnv(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading environment")
	}
	settings, err := config.LoadSettings(*settingsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading settings")
	}
	policy, rules, err := settings.Compile(*enableDeletion)
	if err != nil {
		log.Fatal().Err(err).Msg("compiling settings")
	}

	store := repo.NewStore(*repoDir)
	desired, err := store.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading desired state")
	}

	checker := integrity.NewChecker(rules, desired)
	if err := checker.Check(); err != nil {
		log.Fatal().Err(err).Msg("integrity check failed")
	}
	if *action == "check" {
		log.Info().Msg("desired state is consistent")
		return
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("creating cookie jar")
	}
	httpClient := &http.Client{Jar: jar}
	if username := os.Getenv("IPA_USERNAME"); username != "" {
		err := freeipa.SessionLogin(ctx, httpClient, env.IPAServerFQDN, username, os.Getenv("IPA_PASSWORD"))
		if err != nil {
			log.Fatal().Err(err).Msg("authenticating to FreeIPA")
		}
	}
	client := freeipa.NewRPCClient(env.IPAServerFQDN, httpClient)

	var opts []reconcile.Option
	if *useLDAP {
		source, err := ldapsource.Connect(
			env.LDAPHost, env.LDAPBindDN, env.LDAPPassword, env.LDAPBaseDN, env.LDAPPageSize)
		if err != nil {
			log.Fatal().Err(err).Msg("connecting LDAP source")
		}
		defer source.Close()
		opts = append(opts, reconcile.WithSource(source))
	}
	if env.AuditDSN != "" {
		recorder, err := audit.Connect(ctx, env.AuditDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connecting audit store")
		}
		defer recorder.Close()
		opts = append(opts, reconcile.WithRecorder(recorder))
	}

	engine := reconcile.NewEngine(client, policy, desired, opts...)

	switch *action {
	case "push":
		if err := engine.Push(ctx, *force); err != nil {
			log.Fatal().Err(err).Msg("push failed")
		}
	case "pull":
		if err := engine.Pull(ctx, store, *addOnly, *force); err != nil {
			log.Fatal().Err(err).Msg("pull failed")
		}
	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}
}
