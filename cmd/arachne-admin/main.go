// ABOUTME: Operator CLI for arachne: entities, subscriptions, requests, templates, bans, bugs
// ABOUTME: Talks directly to the SQLite database, so the daemon need not be running

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/arachne-bridge/arachne/internal/avatars"
	"github.com/arachne-bridge/arachne/internal/bridge"
	"github.com/arachne-bridge/arachne/internal/config"
	"github.com/arachne-bridge/arachne/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.LoadForTooling(config.ResolvePath())
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		color.Red("Error: opening database %s: %v\n", cfg.Database.Path, err)
		os.Exit(1)
	}
	defer s.Close()

	ctx := context.Background()

	switch cmd {
	case "entity", "entities":
		err = cmdEntity(ctx, s, cfg, args)
	case "server", "servers":
		err = cmdServer(ctx, s, args)
	case "requests", "request":
		err = cmdRequests(ctx, s, args)
	case "template", "templates":
		err = cmdTemplate(ctx, s, args)
	case "settings":
		err = cmdSettings(ctx, s, args)
	case "ban", "bans":
		err = cmdBan(ctx, s, args)
	case "bugs", "bug":
		err = cmdBugs(ctx, s, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("arachne-admin - operator tooling for the arachne bridge")
	fmt.Println()
	fmt.Println("Usage: arachne-admin <command> [subcommand] [flags]")
	fmt.Println()

	yellow.Println("Entities:")
	fmt.Println("  entity create --name NAME [--owner ID] [--owner-name NAME]")
	fmt.Println("  entity list [--owner ID]")
	fmt.Println("  entity show <entity-id>")
	fmt.Println("  entity set-owner <entity-id> --owner ID [--owner-name NAME]")
	fmt.Println("  entity regen-key <entity-id>")
	fmt.Println("  entity deactivate <entity-id>")
	fmt.Println("  entity triggers <entity-id> [word ...]")
	fmt.Println("  entity notify <entity-id> [--mention on|off] [--trigger on|off]")
	fmt.Println("  entity set-avatar <entity-id> <image-file>")
	fmt.Println()

	yellow.Println("Subscriptions:")
	fmt.Println("  server add <entity-id> <server-id> [--channels a,b] [--tools x,y]")
	fmt.Println("  server remove <entity-id> <server-id>")
	fmt.Println("  server channels <entity-id> <server-id> [--channels a,b] [--tools x,y]")
	fmt.Println("  server filters <entity-id> <server-id> [--watch a,b] [--blocked c,d]")
	fmt.Println("  server list (--entity ID | --server ID)")
	fmt.Println()

	yellow.Println("Join requests:")
	fmt.Println("  requests list [--server ID] [--status pending|approved|rejected]")
	fmt.Println("  requests approve <request-id> [--reviewer ID]")
	fmt.Println("  requests reject <request-id> [--reviewer ID]")
	fmt.Println()

	yellow.Println("Templates and settings:")
	fmt.Println("  template set <server-id> <name> [--channels a,b] [--tools x,y]")
	fmt.Println("  template list <server-id>")
	fmt.Println("  template delete <server-id> <name>")
	fmt.Println("  template import <file.toml>")
	fmt.Println("  settings set <server-id> [--announce-channel ID] [--announce-template T]")
	fmt.Println("               [--role-template T] [--default-template NAME]")
	fmt.Println("  settings show <server-id>")
	fmt.Println()

	yellow.Println("Bans and bug reports:")
	fmt.Println("  ban add <server-id> [--reason TEXT]")
	fmt.Println("  ban remove <server-id>")
	fmt.Println("  ban list")
	fmt.Println("  bugs list [--status open|closed] [--reporter ID]")
	fmt.Println("  bugs show <report-id>")
	fmt.Println("  bugs close <report-id>")
	fmt.Println("  bugs reopen <report-id>")
	fmt.Println()

	yellow.Println("Environment:")
	fmt.Println("  ARACHNE_CONFIG   Config file path (default: ./arachne.yaml)")
	fmt.Println("  DB_PATH          Database file path override")
	fmt.Println("  DATA_DIR         Data directory for avatars")
	fmt.Println("  AVATAR_BASE_URL  Public URL prefix for stored avatars")
}

// approvalsLogger keeps approval warnings visible without the daemon's
// colored handler.
func approvalsLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// ---- entity ----

func cmdEntity(ctx context.Context, s *store.SQLiteStore, cfg *config.Config, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "create", "add":
		return cmdEntityCreate(ctx, s, args)
	case "list", "ls":
		return cmdEntityList(ctx, s, args)
	case "show", "get":
		return cmdEntityShow(ctx, s, args)
	case "set-owner":
		return cmdEntitySetOwner(ctx, s, args)
	case "regen-key":
		return cmdEntityRegenKey(ctx, s, args)
	case "deactivate", "rm", "remove":
		return cmdEntityDeactivate(ctx, s, args)
	case "triggers":
		return cmdEntityTriggers(ctx, s, args)
	case "notify":
		return cmdEntityNotify(ctx, s, args)
	case "set-avatar":
		return cmdEntitySetAvatar(ctx, s, cfg, args)
	default:
		return fmt.Errorf("unknown entity subcommand: %s (use create, list, show, set-owner, regen-key, deactivate, triggers, notify, set-avatar)", subcmd)
	}
}

func cmdEntityCreate(ctx context.Context, s *store.SQLiteStore, args []string) error {
	var name, ownerID, ownerName string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--owner", "-o":
			if i+1 < len(args) {
				ownerID = args[i+1]
				i++
			}
		case "--owner-name":
			if i+1 < len(args) {
				ownerName = args[i+1]
				i++
			}
		}
	}

	if name == "" {
		return fmt.Errorf("usage: entity create --name <name> [--owner <user-id>] [--owner-name <name>]")
	}

	entity, apiKey, err := s.CreateEntity(ctx, name, "", ownerID, ownerName)
	if err != nil {
		return fmt.Errorf("creating entity: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("✓ Created entity: %s\n", entity.Name)
	fmt.Printf("  ID:      %s\n", entity.ID)
	if entity.OwnerID != "" {
		fmt.Printf("  Owner:   %s\n", entity.OwnerID)
	}
	fmt.Printf("  API key: %s\n", apiKey)
	fmt.Println()
	yellow.Println("  Store this API key now; only its hash is kept.")

	return nil
}

func cmdEntityList(ctx context.Context, s *store.SQLiteStore, args []string) error {
	var ownerID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--owner", "-o":
			if i+1 < len(args) {
				ownerID = args[i+1]
				i++
			}
		}
	}

	var entities []*store.Entity
	var err error
	if ownerID != "" {
		entities, err = s.ListEntitiesByOwner(ctx, ownerID)
	} else {
		entities, err = s.ListEntities(ctx)
	}
	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Entities")
	cyan.Println("  --------")

	if len(entities) == 0 {
		fmt.Println("  (no entities registered)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tOWNER\tACTIVE\tCREATED")
	fmt.Fprintln(w, "  --\t----\t-----\t------\t-------")
	for _, e := range entities {
		owner := e.OwnerName
		if owner == "" {
			owner = e.OwnerID
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(e.ID, 36), truncate(e.Name, 24), truncate(owner, 20),
			yesNo(e.Active), fmtTime(e.CreatedAt))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdEntityShow(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: entity show <entity-id>")
	}
	entityID := args[0]

	entity, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("loading entity: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s\n", entity.Name)
	cyan.Println("  " + strings.Repeat("-", len(entity.Name)))
	fmt.Printf("  ID:          %s\n", entity.ID)
	fmt.Printf("  Active:      %s\n", yesNo(entity.Active))
	if entity.OwnerID != "" {
		fmt.Printf("  Owner:       %s (%s)\n", entity.OwnerName, entity.OwnerID)
	}
	if entity.AvatarURL != "" {
		fmt.Printf("  Avatar:      %s\n", entity.AvatarURL)
	}
	if entity.Description != "" {
		fmt.Printf("  Description: %s\n", entity.Description)
	}
	fmt.Printf("  Notify:      mention=%s trigger=%s\n",
		yesNo(entity.NotifyOnMention), yesNo(entity.NotifyOnTrigger))
	fmt.Printf("  Triggers:    %s\n", joinOrDash(entity.Triggers))
	fmt.Printf("  Created:     %s\n", fmtTime(entity.CreatedAt))

	subs, err := s.ListEntityServers(ctx, entityID)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	fmt.Println()
	cyan.Println("  Subscriptions")
	cyan.Println("  -------------")
	if len(subs) == 0 {
		fmt.Println("  (none)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SERVER\tCHANNELS\tTOOLS\tROLE\tSINCE")
	fmt.Fprintln(w, "  ------\t--------\t-----\t----\t-----")
	for _, sub := range subs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			sub.ServerID, joinOrDash(sub.Channels), joinOrDash(sub.Tools),
			orDash(sub.RoleID), fmtTime(sub.CreatedAt))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdEntitySetOwner(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: entity set-owner <entity-id> --owner <user-id> [--owner-name <name>]")
	}
	entityID := args[0]

	var ownerID, ownerName string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--owner", "-o":
			if i+1 < len(args) {
				ownerID = args[i+1]
				i++
			}
		case "--owner-name":
			if i+1 < len(args) {
				ownerName = args[i+1]
				i++
			}
		}
	}

	if ownerID == "" {
		return fmt.Errorf("usage: entity set-owner <entity-id> --owner <user-id> [--owner-name <name>]")
	}

	if err := s.SetEntityOwner(ctx, entityID, ownerID, ownerName); err != nil {
		return fmt.Errorf("setting owner: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Set owner of %s to %s\n", entityID, ownerID)
	return nil
}

func cmdEntityRegenKey(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: entity regen-key <entity-id>")
	}
	entityID := args[0]

	apiKey, err := s.RegenerateEntityKey(ctx, entityID)
	if err != nil {
		return fmt.Errorf("regenerating key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("✓ Regenerated API key for %s\n", entityID)
	fmt.Printf("  API key: %s\n", apiKey)
	fmt.Println()
	yellow.Println("  The old key stops authenticating immediately. Session tokens")
	yellow.Println("  already issued stay valid until they expire.")

	return nil
}

func cmdEntityDeactivate(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: entity deactivate <entity-id>")
	}
	entityID := args[0]

	if err := s.DeactivateEntity(ctx, entityID); err != nil {
		return fmt.Errorf("deactivating entity: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Deactivated entity: %s\n", entityID)
	return nil
}

func cmdEntityTriggers(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: entity triggers <entity-id> [word ...]")
	}
	entityID := args[0]
	triggers := args[1:]

	if err := s.SetEntityTriggers(ctx, entityID, triggers); err != nil {
		return fmt.Errorf("setting triggers: %w", err)
	}

	green := color.New(color.FgGreen)
	if len(triggers) == 0 {
		green.Printf("✓ Cleared triggers for %s\n", entityID)
	} else {
		green.Printf("✓ Set triggers for %s: %s\n", entityID, strings.Join(triggers, ", "))
	}
	return nil
}

func cmdEntityNotify(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: entity notify <entity-id> [--mention on|off] [--trigger on|off]")
	}
	entityID := args[0]

	// Unmentioned flags keep their current value
	entity, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("loading entity: %w", err)
	}
	onMention := entity.NotifyOnMention
	onTrigger := entity.NotifyOnTrigger

	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--mention", "-m":
			if i+1 < len(args) {
				v, err := parseOnOff(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --mention value: %w", err)
				}
				onMention = v
				i++
			}
		case "--trigger", "-t":
			if i+1 < len(args) {
				v, err := parseOnOff(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --trigger value: %w", err)
				}
				onTrigger = v
				i++
			}
		}
	}

	if err := s.SetEntityNotifyPrefs(ctx, entityID, onMention, onTrigger); err != nil {
		return fmt.Errorf("setting notify preferences: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Notify preferences for %s: mention=%s trigger=%s\n",
		entityID, yesNo(onMention), yesNo(onTrigger))
	return nil
}

func cmdEntitySetAvatar(ctx context.Context, s *store.SQLiteStore, cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: entity set-avatar <entity-id> <image-file>")
	}
	entityID := args[0]
	filePath := args[1]

	// Fail before touching the filesystem when the entity does not exist
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return fmt.Errorf("loading entity: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	av, err := avatars.New(cfg.Data.Dir, cfg.Data.AvatarBaseURL)
	if err != nil {
		return err
	}

	path, err := av.Save(entityID, data, filepath.Ext(filePath))
	if err != nil {
		return fmt.Errorf("saving avatar: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Saved avatar: %s\n", path)

	url, ok := av.URL(entityID)
	if !ok {
		yellow := color.New(color.FgYellow)
		yellow.Println("  AVATAR_BASE_URL is not set; the avatar will not show until it is public.")
		return nil
	}

	if err := s.UpdateEntityIdentity(ctx, entityID, store.EntityPatch{AvatarURL: &url}); err != nil {
		return fmt.Errorf("updating entity avatar: %w", err)
	}
	green.Printf("✓ Avatar URL: %s\n", url)
	return nil
}

// ---- server ----

func cmdServer(ctx context.Context, s *store.SQLiteStore, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "add", "create":
		return cmdServerAdd(ctx, s, args)
	case "remove", "rm", "delete":
		return cmdServerRemove(ctx, s, args)
	case "channels":
		return cmdServerChannels(ctx, s, args)
	case "filters":
		return cmdServerFilters(ctx, s, args)
	case "list", "ls":
		return cmdServerList(ctx, s, args)
	default:
		return fmt.Errorf("unknown server subcommand: %s (use add, remove, channels, filters, list)", subcmd)
	}
}

func cmdServerAdd(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: server add <entity-id> <server-id> [--channels a,b] [--tools x,y]")
	}
	entityID, serverID := args[0], args[1]

	var channels, tools []string
	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--channels", "-c":
			if i+1 < len(args) {
				channels = splitCSV(args[i+1])
				i++
			}
		case "--tools", "-t":
			if i+1 < len(args) {
				tools = splitCSV(args[i+1])
				i++
			}
		}
	}

	sub := &store.EntityServer{
		EntityID: entityID,
		ServerID: serverID,
		Channels: channels,
		Tools:    tools,
	}
	if err := s.AddServer(ctx, sub); err != nil {
		return fmt.Errorf("adding subscription: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Subscribed %s to server %s\n", entityID, serverID)
	if len(channels) > 0 {
		fmt.Printf("  Channels: %s\n", strings.Join(channels, ", "))
	}
	if len(tools) > 0 {
		fmt.Printf("  Tools:    %s\n", strings.Join(tools, ", "))
	}
	return nil
}

func cmdServerRemove(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: server remove <entity-id> <server-id>")
	}
	entityID, serverID := args[0], args[1]

	roleID, err := s.RemoveServer(ctx, entityID, serverID)
	if err != nil {
		return fmt.Errorf("removing subscription: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Removed %s from server %s\n", entityID, serverID)
	if roleID != "" {
		yellow := color.New(color.FgYellow)
		yellow.Printf("  Platform role %s was not deleted; remove it in Discord if unwanted.\n", roleID)
	}
	return nil
}

func cmdServerChannels(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: server channels <entity-id> <server-id> [--channels a,b] [--tools x,y]")
	}
	entityID, serverID := args[0], args[1]

	// Flags not given keep the stored values
	sub, err := s.GetEntityServer(ctx, entityID, serverID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	channels, tools := sub.Channels, sub.Tools

	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--channels", "-c":
			if i+1 < len(args) {
				channels = splitCSV(args[i+1])
				i++
			}
		case "--tools", "-t":
			if i+1 < len(args) {
				tools = splitCSV(args[i+1])
				i++
			}
		}
	}

	if err := s.UpdateServerChannels(ctx, entityID, serverID, channels, tools); err != nil {
		return fmt.Errorf("updating channels: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Updated %s on server %s\n", entityID, serverID)
	fmt.Printf("  Channels: %s\n", joinOrDash(channels))
	fmt.Printf("  Tools:    %s\n", joinOrDash(tools))
	return nil
}

func cmdServerFilters(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: server filters <entity-id> <server-id> [--watch a,b] [--blocked c,d]")
	}
	entityID, serverID := args[0], args[1]

	sub, err := s.GetEntityServer(ctx, entityID, serverID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	watch, blocked := sub.WatchChannels, sub.BlockedChannels

	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--watch", "-w":
			if i+1 < len(args) {
				watch = splitCSV(args[i+1])
				i++
			}
		case "--blocked", "-b":
			if i+1 < len(args) {
				blocked = splitCSV(args[i+1])
				i++
			}
		}
	}

	if err := s.UpdateServerFilters(ctx, entityID, serverID, watch, blocked); err != nil {
		return fmt.Errorf("updating filters: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Updated filters for %s on server %s\n", entityID, serverID)
	fmt.Printf("  Watch:   %s\n", joinOrDash(watch))
	fmt.Printf("  Blocked: %s\n", joinOrDash(blocked))
	return nil
}

func cmdServerList(ctx context.Context, s *store.SQLiteStore, args []string) error {
	var entityID, serverID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--entity", "-e":
			if i+1 < len(args) {
				entityID = args[i+1]
				i++
			}
		case "--server", "-s":
			if i+1 < len(args) {
				serverID = args[i+1]
				i++
			}
		}
	}

	switch {
	case entityID != "":
		subs, err := s.ListEntityServers(ctx, entityID)
		if err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		printSubscriptions(subs)
		return nil
	case serverID != "":
		subscribers, err := s.ListServerEntities(ctx, serverID)
		if err != nil {
			return fmt.Errorf("listing subscribers: %w", err)
		}
		printSubscribers(subscribers)
		return nil
	default:
		return fmt.Errorf("usage: server list (--entity <id> | --server <id>)")
	}
}

func printSubscriptions(subs []*store.EntityServer) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Subscriptions")
	cyan.Println("  -------------")

	if len(subs) == 0 {
		fmt.Println("  (none)")
		fmt.Println()
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SERVER\tCHANNELS\tTOOLS\tWATCH\tBLOCKED\tROLE")
	fmt.Fprintln(w, "  ------\t--------\t-----\t-----\t-------\t----")
	for _, sub := range subs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			sub.ServerID, joinOrDash(sub.Channels), joinOrDash(sub.Tools),
			joinOrDash(sub.WatchChannels), joinOrDash(sub.BlockedChannels), orDash(sub.RoleID))
	}
	w.Flush()
	fmt.Println()
}

func printSubscribers(subscribers []*store.Subscriber) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Subscribers")
	cyan.Println("  -----------")

	if len(subscribers) == 0 {
		fmt.Println("  (none)")
		fmt.Println()
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tCHANNELS\tTOOLS\tSINCE")
	fmt.Fprintln(w, "  --\t----\t--------\t-----\t-----")
	for _, sub := range subscribers {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(sub.Entity.ID, 36), truncate(sub.Entity.Name, 24),
			joinOrDash(sub.Server.Channels), joinOrDash(sub.Server.Tools),
			fmtTime(sub.Server.CreatedAt))
	}
	w.Flush()
	fmt.Println()
}

// ---- requests ----

func cmdRequests(ctx context.Context, s *store.SQLiteStore, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdRequestsList(ctx, s, args)
	case "approve":
		return cmdRequestsDecide(ctx, s, args, true)
	case "reject", "deny":
		return cmdRequestsDecide(ctx, s, args, false)
	default:
		return fmt.Errorf("unknown requests subcommand: %s (use list, approve, reject)", subcmd)
	}
}

func cmdRequestsList(ctx context.Context, s *store.SQLiteStore, args []string) error {
	var serverID, status string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--server", "-s":
			if i+1 < len(args) {
				serverID = args[i+1]
				i++
			}
		case "--status":
			if i+1 < len(args) {
				status = args[i+1]
				i++
			}
		}
	}

	requests, err := s.ListServerRequests(ctx, serverID, status)
	if err != nil {
		return fmt.Errorf("listing requests: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Join Requests")
	cyan.Println("  -------------")

	if len(requests) == 0 {
		fmt.Println("  (no requests)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tENTITY\tSERVER\tAPPLICANT\tSTATUS\tCREATED")
	fmt.Fprintln(w, "  --\t------\t------\t---------\t------\t-------")
	for _, r := range requests {
		applicant := r.ApplicantName
		if applicant == "" {
			applicant = r.ApplicantID
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(r.ID, 36), truncate(r.EntityID, 36), r.ServerID,
			truncate(applicant, 20), r.Status, fmtTime(r.CreatedAt))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdRequestsDecide(ctx context.Context, s *store.SQLiteStore, args []string, approve bool) error {
	verb := "approve"
	if !approve {
		verb = "reject"
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: requests %s <request-id> [--reviewer <user-id>]", verb)
	}
	requestID := args[0]

	var reviewerID string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--reviewer", "-r":
			if i+1 < len(args) {
				reviewerID = args[i+1]
				i++
			}
		}
	}
	if reviewerID == "" {
		reviewerID = "admin-cli"
	}

	// No platform connection here: the store transition and subscription are
	// recorded, role and announcement happen only through the daemon.
	approvals := bridge.NewApprovals(s, nil, approvalsLogger())

	green := color.New(color.FgGreen)
	if approve {
		if err := approvals.ApproveRequest(ctx, requestID, reviewerID); err != nil {
			return fmt.Errorf("approving request: %w", err)
		}
		green.Printf("✓ Approved request %s\n", requestID)
		yellow := color.New(color.FgYellow)
		yellow.Println("  Subscription recorded; role and announcement require the running daemon.")
		return nil
	}

	if err := approvals.RejectRequest(ctx, requestID, reviewerID); err != nil {
		return fmt.Errorf("rejecting request: %w", err)
	}
	green.Printf("✓ Rejected request %s\n", requestID)
	return nil
}

// ---- template ----

func cmdTemplate(ctx context.Context, s *store.SQLiteStore, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "set", "create", "add":
		return cmdTemplateSet(ctx, s, args)
	case "list", "ls":
		return cmdTemplateList(ctx, s, args)
	case "delete", "rm", "remove":
		return cmdTemplateDelete(ctx, s, args)
	case "import":
		return cmdTemplateImport(ctx, s, args)
	default:
		return fmt.Errorf("unknown template subcommand: %s (use set, list, delete, import)", subcmd)
	}
}

func cmdTemplateSet(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: template set <server-id> <name> [--channels a,b] [--tools x,y]")
	}
	serverID, name := args[0], args[1]

	var channels, tools []string
	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--channels", "-c":
			if i+1 < len(args) {
				channels = splitCSV(args[i+1])
				i++
			}
		case "--tools", "-t":
			if i+1 < len(args) {
				tools = splitCSV(args[i+1])
				i++
			}
		}
	}

	tmpl := &store.ServerTemplate{
		ServerID: serverID,
		Name:     name,
		Channels: channels,
		Tools:    tools,
	}
	if err := s.UpsertServerTemplate(ctx, tmpl); err != nil {
		return fmt.Errorf("saving template: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Saved template %q for server %s\n", name, serverID)
	return nil
}

func cmdTemplateList(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: template list <server-id>")
	}
	serverID := args[0]

	templates, err := s.ListServerTemplates(ctx, serverID)
	if err != nil {
		return fmt.Errorf("listing templates: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Templates for %s\n", serverID)
	cyan.Println("  " + strings.Repeat("-", len("Templates for ")+len(serverID)))

	if len(templates) == 0 {
		fmt.Println("  (no templates)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tCHANNELS\tTOOLS")
	fmt.Fprintln(w, "  ----\t--------\t-----")
	for _, t := range templates {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", t.Name, joinOrDash(t.Channels), joinOrDash(t.Tools))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdTemplateDelete(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: template delete <server-id> <name>")
	}
	serverID, name := args[0], args[1]

	if err := s.DeleteServerTemplate(ctx, serverID, name); err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Deleted template %q from server %s\n", name, serverID)
	return nil
}

// templateFile is the TOML layout accepted by template import:
//
//	[[template]]
//	server   = "123456789"
//	name     = "standard"
//	channels = ["general", "bots"]
//	tools    = ["search"]
type templateFile struct {
	Templates []struct {
		Server   string   `toml:"server"`
		Name     string   `toml:"name"`
		Channels []string `toml:"channels"`
		Tools    []string `toml:"tools"`
	} `toml:"template"`
}

func cmdTemplateImport(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: template import <file.toml>")
	}
	path := args[0]

	var doc templateFile
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(doc.Templates) == 0 {
		return fmt.Errorf("%s contains no [[template]] entries", path)
	}

	for i, t := range doc.Templates {
		if t.Server == "" || t.Name == "" {
			return fmt.Errorf("template %d in %s: server and name are required", i+1, path)
		}
		tmpl := &store.ServerTemplate{
			ServerID: t.Server,
			Name:     t.Name,
			Channels: t.Channels,
			Tools:    t.Tools,
		}
		if err := s.UpsertServerTemplate(ctx, tmpl); err != nil {
			return fmt.Errorf("saving template %q for server %s: %w", t.Name, t.Server, err)
		}
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Imported %d templates from %s\n", len(doc.Templates), path)
	return nil
}

// ---- settings ----

func cmdSettings(ctx context.Context, s *store.SQLiteStore, args []string) error {
	subcmd := "show"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "set":
		return cmdSettingsSet(ctx, s, args)
	case "show", "get":
		return cmdSettingsShow(ctx, s, args)
	default:
		return fmt.Errorf("unknown settings subcommand: %s (use set, show)", subcmd)
	}
}

func cmdSettingsSet(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: settings set <server-id> [--announce-channel ID] [--announce-template T] [--role-template T] [--default-template NAME]")
	}
	serverID := args[0]

	// Start from the stored row so single-flag updates do not clear the rest
	settings, err := s.GetServerSettings(ctx, serverID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading settings: %w", err)
		}
		settings = &store.ServerSettings{ServerID: serverID}
	}

	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--announce-channel":
			if i+1 < len(args) {
				settings.AnnounceChannelID = args[i+1]
				i++
			}
		case "--announce-template":
			if i+1 < len(args) {
				settings.AnnounceTemplate = args[i+1]
				i++
			}
		case "--role-template":
			if i+1 < len(args) {
				settings.RoleTemplate = args[i+1]
				i++
			}
		case "--default-template":
			if i+1 < len(args) {
				settings.DefaultTemplate = args[i+1]
				i++
			}
		}
	}

	if err := s.UpsertServerSettings(ctx, settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Saved settings for server %s\n", serverID)
	return nil
}

func cmdSettingsShow(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: settings show <server-id>")
	}
	serverID := args[0]

	settings, err := s.GetServerSettings(ctx, serverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Printf("(no settings configured for server %s)\n", serverID)
			return nil
		}
		return fmt.Errorf("loading settings: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Settings for %s\n", serverID)
	cyan.Println("  " + strings.Repeat("-", len("Settings for ")+len(serverID)))
	fmt.Printf("  Announce channel:  %s\n", orDash(settings.AnnounceChannelID))
	fmt.Printf("  Announce template: %s\n", orDash(settings.AnnounceTemplate))
	fmt.Printf("  Role template:     %s\n", orDash(settings.RoleTemplate))
	fmt.Printf("  Default template:  %s\n", orDash(settings.DefaultTemplate))
	fmt.Printf("  Updated:           %s\n", fmtTime(settings.UpdatedAt))
	fmt.Println()

	return nil
}

// ---- ban ----

func cmdBan(ctx context.Context, s *store.SQLiteStore, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "add", "create":
		return cmdBanAdd(ctx, s, args)
	case "remove", "rm", "delete":
		return cmdBanRemove(ctx, s, args)
	case "list", "ls":
		return cmdBanList(ctx, s)
	default:
		return fmt.Errorf("unknown ban subcommand: %s (use add, remove, list)", subcmd)
	}
}

func cmdBanAdd(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ban add <server-id> [--reason TEXT]")
	}
	serverID := args[0]

	var reason string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--reason", "-r":
			if i+1 < len(args) {
				reason = args[i+1]
				i++
			}
		}
	}

	if err := s.BanServer(ctx, serverID, reason); err != nil {
		return fmt.Errorf("banning server: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Banned server %s\n", serverID)
	return nil
}

func cmdBanRemove(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ban remove <server-id>")
	}
	serverID := args[0]

	if err := s.UnbanServer(ctx, serverID); err != nil {
		return fmt.Errorf("unbanning server: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Unbanned server %s\n", serverID)
	return nil
}

func cmdBanList(ctx context.Context, s *store.SQLiteStore) error {
	bans, err := s.ListServerBans(ctx)
	if err != nil {
		return fmt.Errorf("listing bans: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Banned Servers")
	cyan.Println("  --------------")

	if len(bans) == 0 {
		fmt.Println("  (no bans)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SERVER\tREASON\tSINCE")
	fmt.Fprintln(w, "  ------\t------\t-----")
	for _, b := range bans {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", b.ServerID, orDash(truncate(b.Reason, 48)), fmtTime(b.CreatedAt))
	}
	w.Flush()
	fmt.Println()

	return nil
}

// ---- bugs ----

func cmdBugs(ctx context.Context, s *store.SQLiteStore, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdBugsList(ctx, s, args)
	case "show", "get":
		return cmdBugsShow(ctx, s, args)
	case "close":
		return cmdBugsSetStatus(ctx, s, args, store.BugStatusClosed)
	case "reopen":
		return cmdBugsSetStatus(ctx, s, args, store.BugStatusOpen)
	default:
		return fmt.Errorf("unknown bugs subcommand: %s (use list, show, close, reopen)", subcmd)
	}
}

func cmdBugsList(ctx context.Context, s *store.SQLiteStore, args []string) error {
	var status, reporterID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--status":
			if i+1 < len(args) {
				status = args[i+1]
				i++
			}
		case "--reporter":
			if i+1 < len(args) {
				reporterID = args[i+1]
				i++
			}
		}
	}

	reports, err := s.ListBugReports(ctx, reporterID, status)
	if err != nil {
		return fmt.Errorf("listing bug reports: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Bug Reports")
	cyan.Println("  -----------")

	if len(reports) == 0 {
		fmt.Println("  (no bug reports)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tREPORTER\tSTATUS\tUPDATED")
	fmt.Fprintln(w, "  --\t-----\t--------\t------\t-------")
	for _, r := range reports {
		reporter := r.ReporterName
		if reporter == "" {
			reporter = r.ReporterID
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(r.ID, 36), truncate(r.Title, 40), truncate(reporter, 20),
			r.Status, fmtTime(r.UpdatedAt))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdBugsShow(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bugs show <report-id>")
	}
	reportID := args[0]

	report, err := s.GetBugReport(ctx, reportID)
	if err != nil {
		return fmt.Errorf("loading bug report: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s\n", report.Title)
	cyan.Println("  " + strings.Repeat("-", len(report.Title)))
	fmt.Printf("  ID:       %s\n", report.ID)
	fmt.Printf("  Reporter: %s (%s)\n", report.ReporterName, report.ReporterID)
	fmt.Printf("  Status:   %s\n", report.Status)
	fmt.Printf("  Created:  %s\n", fmtTime(report.CreatedAt))
	fmt.Printf("  Updated:  %s\n", fmtTime(report.UpdatedAt))

	messages, err := s.ListBugReportMessages(ctx, reportID)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	fmt.Println()
	cyan.Println("  Thread")
	cyan.Println("  ------")
	if len(messages) == 0 {
		fmt.Println("  (no messages)")
		fmt.Println()
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, m := range messages {
		gray.Printf("  %s  %s\n", fmtTime(m.CreatedAt), m.AuthorName)
		fmt.Printf("  %s\n\n", m.Body)
	}

	return nil
}

func cmdBugsSetStatus(ctx context.Context, s *store.SQLiteStore, args []string, status string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bugs %s <report-id>", map[string]string{store.BugStatusClosed: "close", store.BugStatusOpen: "reopen"}[status])
	}
	reportID := args[0]

	if err := s.SetBugReportStatus(ctx, reportID, status); err != nil {
		return fmt.Errorf("updating bug report: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Bug report %s is now %s\n", reportID, status)
	return nil
}

// ---- helpers ----

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("Jan 02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinOrDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ",")
}

// splitCSV parses "a,b, c" into trimmed, non-empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
