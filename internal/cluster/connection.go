/*
Copyright 2025 The RBD-Backup Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cluster

import (
	"errors"
	"fmt"

	"github.com/ceph/go-ceph/rados"
)

// defaultUser is the client the backup host authenticates as; exports and
// snapshot commands run under the same client.
const defaultUser = "client.admin"

// ErrPoolNotFound is returned when a pool is not present in the cluster.
var ErrPoolNotFound = errors.New("pool not found")

// ClusterConnection is a rados session against one named cluster, shared by
// every pool adapter the engine opens.
type ClusterConnection struct {
	conn *rados.Conn

	clusterName string
	conffile    string
}

// Connect establishes the rados session for the named cluster using the
// given configuration file. An empty conffile falls back to the default
// search path of librados.
func Connect(clusterName, conffile string) (*ClusterConnection, error) {
	conn, err := rados.NewConnWithClusterAndUser(clusterName, defaultUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection for cluster %s: %w", clusterName, err)
	}

	if conffile != "" {
		err = conn.ReadConfigFile(conffile)
	} else {
		err = conn.ReadDefaultConfigFile()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ceph config for cluster %s: %w", clusterName, err)
	}

	if err = conn.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to cluster %s: %w", clusterName, err)
	}

	return &ClusterConnection{
		conn:        conn,
		clusterName: clusterName,
		conffile:    conffile,
	}, nil
}

// GetFSID returns the fsid of the connected cluster.
func (cc *ClusterConnection) GetFSID() (string, error) {
	if cc.conn == nil {
		return "", errors.New("cluster is not connected yet")
	}

	return cc.conn.GetFSID()
}

// ClusterName returns the name the session was established with.
func (cc *ClusterConnection) ClusterName() string {
	return cc.clusterName
}

// OpenPool opens an IO context on the named pool and wraps it in a Pool
// adapter.
func (cc *ClusterConnection) OpenPool(poolName string) (*Pool, error) {
	if cc.conn == nil {
		return nil, errors.New("cluster is not connected yet")
	}

	ioctx, err := cc.conn.OpenIOContext(poolName)
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
		}

		return nil, fmt.Errorf("failed to open IOContext for pool %s: %w", poolName, err)
	}

	return &Pool{
		name:        poolName,
		clusterName: cc.clusterName,
		ioctx:       ioctx,
	}, nil
}

// Destroy closes the rados session. Pool adapters opened from this
// connection must be closed first.
func (cc *ClusterConnection) Destroy() {
	if cc.conn != nil {
		cc.conn.Shutdown()
		cc.conn = nil
	}
}
