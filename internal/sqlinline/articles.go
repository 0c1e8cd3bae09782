package sqlinline

const QInsertArticle = `--sql edd742ec-1240-4553-8baa-99fb55fa525f
insert into articles (id, task_id, title, summary, body, word_count, image_urls, platform, style, tags, metadata, created_at)
values (gen_random_uuid(), $1::uuid, $2::text, $3::text, $4::text, $5::int, $6::text[], $7::text, $8::text, $9::text[], coalesce($10::jsonb, '{}'::jsonb), now())
returning id::text;
`
