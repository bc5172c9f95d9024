// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

const (
	consentPrefix        = "pn-consent-"
	tokenMapCollection   = "devicetokens"
	tokenMapEntityType   = "devicetoken"
	deviceCollection     = "devices"
	deviceSchemaVersion  = "v3"
	attrNotifierID       = "notifier-id"
	attrDevicePlatform   = "device-platform"
	attrMSISDN           = "msisdn"
	attrConsent          = "pn-consent"
	attrAPIVersion       = "api-version"
	attrAppName          = "app-name"
	notifierIDAttrSuffix = ".notifier.id"
)

// transformDevice consolidates a device into its per-app shape:
// name {msisdn}-{app}, api-version, app-name and {app}-{platform}.notifier.id.
// A device missing any of msisdn, device-platform or notifier-id is left unchanged.
func transformDevice(d *entity.Entity, app string) {
	platform, ok1 := d.String(attrDevicePlatform)
	msisdn, ok2 := d.String(attrMSISDN)
	notifier, ok3 := d.String(attrNotifierID)
	if !ok1 || !ok2 || !ok3 {
		return
	}
	d.Set(entity.FieldName, msisdn+"-"+app)
	d.Set(attrAPIVersion, deviceSchemaVersion)
	d.Set(attrAppName, app)
	d.Set(app+"-"+platform+notifierIDAttrSuffix, notifier)
}

// deviceToken extracts the push token of a notifier id, which may be a URL carrying it in the
// token query parameter.
func deviceToken(notifierID string) (string, bool) {
	if !strings.Contains(notifierID, "http") {
		return notifierID, notifierID != ""
	}
	u, err := url.Parse(notifierID)
	if err != nil {
		return "", false
	}
	token := u.Query().Get("token")
	return token, token != ""
}

// tokenMapEntity builds the devicetoken record for a transformed device.
func tokenMapEntity(device *entity.Entity) (*entity.Entity, bool) {
	notifier, ok := device.String(attrNotifierID)
	if !ok || device.Name == "" {
		return nil, false
	}
	token, ok := deviceToken(notifier)
	if !ok {
		return nil, false
	}
	t := entity.New(tokenMapEntityType)
	t.Set(attrMSISDN, device.Name)
	t.Set(entity.FieldName, url.QueryEscape(token))
	return t, true
}

// migrateDeviceToTokenMap upserts the token map record of a device.
func (en *Engine) migrateDeviceToTokenMap(ctx context.Context, org, app string, device *entity.Entity) bool {
	t, ok := tokenMapEntity(device)
	if !ok {
		return false
	}
	target := en.target.Endpoint().PutEntityURL(org, app, tokenMapCollection, t.Name)
	return en.putSecondary(ctx, target, t, func(status int) bool {
		return status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusNotFound
	})
}

// consentDevices derives one device per pn-consent-{app} attribute of a user, sorted by app.
// When apps is non-empty only those suffixes qualify.
func consentDevices(user *entity.Entity, apps []string) []*entity.Entity {
	if user.Username == "" {
		return nil
	}
	keys := make([]string, 0)
	for k := range user.Attributes {
		if strings.HasPrefix(k, consentPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var devices []*entity.Entity
	for _, k := range keys {
		app := strings.TrimPrefix(k, consentPrefix)
		if app == "" || (len(apps) > 0 && !slices.Contains(apps, app)) {
			continue
		}
		d := entity.New("device")
		d.Set(entity.FieldName, user.Username+"-"+app)
		d.Set(attrConsent, user.Attributes[k])
		devices = append(devices, d)
	}
	return devices
}

// migrateUserDevices upserts the consent devices of a user and connects each back to the user.
func (en *Engine) migrateUserDevices(ctx context.Context, org, app string, user *entity.Entity) {
	for _, d := range consentDevices(user, en.cfg.Engine.ConsentApps) {
		target := en.target.Endpoint().PutEntityURL(org, app, deviceCollection, d.Name)
		if !en.putSecondary(ctx, target, d, func(status int) bool { return status < 500 }) {
			continue
		}
		u := en.target.Endpoint().ConnectionByUUIDURL(org, app, "users", en.SourceIdentifier(user), deviceCollection, d.Name)
		if en.createConnection(ctx, u) != connected {
			logEntity("error", fmt.Sprintf("Unable to connect user [%s] to device [%s]", user.Username, d.Name), user.UUID)
		}
	}
}

// putSecondary PUTs a derived record with bounded retries. terminal decides which non-200
// statuses stop retrying.
func (en *Engine) putSecondary(ctx context.Context, target string, e *entity.Entity, terminal func(status int) bool) bool {
	body, err := e.Payload()
	if err != nil {
		return false
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := en.retrySleep(ctx); err != nil {
				return false
			}
		}
		resp, err := en.target.Put(ctx, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		if resp.OK() {
			return true
		}
		logEntity("error", fmt.Sprintf("Failure [%d] on attempt [%d] to PUT url=[%s]: %s",
			resp.StatusCode, attempt, usergrid.Redact(target), resp.Body), e.Name)
		if terminal(resp.StatusCode) {
			return false
		}
	}
	logEntity("critical", fmt.Sprintf("ABORT %s upsert after [%d] attempts at url=[%s]", e.Type, maxAttempts, usergrid.Redact(target)), e.Name)
	return false
}
