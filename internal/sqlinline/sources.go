package sqlinline

const QSelectInsightsByIDs = `--sql 86a2952d-b1e3-452b-9554-fb248916a830
select i.id::text, coalesce(i.topic_id::text, ''), i.content
from insights i
where i.id::text = any($1::text[])
order by array_position($1::text[], i.id::text);
`

const QSelectInsightsByTopic = `--sql e41763ea-0ea9-4249-9e08-511b0218ef84
select i.id::text, coalesce(i.topic_id::text, ''), i.content
from insights i
where i.topic_id::text = $1::text
order by i.created_at asc
limit $2::int;
`

const QSelectSourceArticle = `--sql 7a7d344a-b1de-47eb-8dc0-8dee2f44957c
select id::text, coalesce(title, ''), content, coalesce(url, '')
from source_articles
where id::text = $1::text
limit 1;
`
