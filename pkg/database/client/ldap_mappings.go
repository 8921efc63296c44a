/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

const TLdapGroupMappings = "ldap_group_mappings"

type LdapGroupMapping struct {
	Id       int64  `db:"id"`
	GroupDN  string `db:"group_dn"`
	Role     string `db:"role"`
	Priority int    `db:"priority"`
}

var insertLdapMappingCmd = fmt.Sprintf(`INSERT INTO %s
	(group_dn, role, priority) VALUES (:group_dn, :role, :priority) RETURNING id`, TLdapGroupMappings)

func (c *Client) InsertLdapMapping(ctx context.Context, mapping *LdapGroupMapping) (int64, error) {
	if mapping == nil {
		return 0, nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	rows, err := c.db.NamedQueryContext(ctx, insertLdapMappingCmd, mapping)
	if err != nil {
		klog.ErrorS(err, "failed to insert ldap mapping", "group", mapping.GroupDN)
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err = rows.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// SelectLdapMappings returns all mappings ordered by descending priority, so
// the first matching entry wins.
func (c *Client) SelectLdapMappings(ctx context.Context) ([]*LdapGroupMapping, error) {
	var mappings []*LdapGroupMapping
	err := c.selectList(ctx, &mappings, TLdapGroupMappings, nil, []string{"priority DESC"}, -1, 0)
	return mappings, err
}

func (c *Client) DeleteLdapMapping(ctx context.Context, id int64) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TLdapGroupMappings), id)
	return err
}
