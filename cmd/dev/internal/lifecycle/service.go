// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"sort"
	"strings"

	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// Service is one container of the stack.
type Service int

const (
	ServiceProxy Service = iota
	ServiceApp
	ServiceDatabase
	ServiceAdmin
	ServiceLogViewer
	ServiceFrontend
)

// AllServices lists every service in display order.
var AllServices = []Service{
	ServiceProxy,
	ServiceApp,
	ServiceDatabase,
	ServiceAdmin,
	ServiceLogViewer,
	ServiceFrontend,
}

// Tier orders startup: the database first, then the application, then
// everything that talks to the application.
type Tier int

const (
	TierDatabase Tier = iota
	TierApplication
	TierEdge
)

// String returns the tier name used in step names ("up:database").
func (t Tier) String() string {
	switch t {
	case TierDatabase:
		return "database"
	case TierApplication:
		return "application"
	default:
		return "edge"
	}
}

type serviceInfo struct {
	name    string
	shell   string
	tier    Tier
	aliases []string
}

var serviceTable = map[Service]serviceInfo{
	ServiceProxy:     {name: "nginx", shell: "sh", tier: TierEdge, aliases: []string{"web", "proxy"}},
	ServiceApp:       {name: "php", shell: "bash", tier: TierApplication, aliases: []string{"app"}},
	ServiceDatabase:  {name: "mysql", shell: "bash", tier: TierDatabase, aliases: []string{"db", "database"}},
	ServiceAdmin:     {name: "phpmyadmin", shell: "bash", tier: TierEdge, aliases: []string{"pma", "admin"}},
	ServiceLogViewer: {name: "dozzle", shell: "sh", tier: TierEdge, aliases: []string{"logs"}},
	ServiceFrontend:  {name: "vue", shell: "sh", tier: TierEdge, aliases: []string{"frontend"}},
}

// String returns the compose service name.
func (s Service) String() string {
	return serviceTable[s].name
}

// Shell returns the interactive shell available in the service image.
func (s Service) Shell() string {
	return serviceTable[s].shell
}

// Tier returns the startup tier.
func (s Service) Tier() Tier {
	return serviceTable[s].tier
}

// ParseService resolves a compose name or alias, case-insensitively.
//
// # Outputs
//
//   - Service: The matching service
//   - error: *util.TargetError listing the accepted names
func ParseService(name string) (Service, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, s := range AllServices {
		info := serviceTable[s]
		if key == info.name {
			return s, nil
		}
		for _, a := range info.aliases {
			if key == a {
				return s, nil
			}
		}
	}
	return 0, &util.TargetError{Name: name, Known: ServiceNames()}
}

// ServiceNames returns every accepted name (compose names and aliases), sorted.
func ServiceNames() []string {
	var names []string
	for _, s := range AllServices {
		info := serviceTable[s]
		names = append(names, info.name)
		names = append(names, info.aliases...)
	}
	sort.Strings(names)
	return names
}
