// Package spy provides test doubles that capture observability calls.
package spy
